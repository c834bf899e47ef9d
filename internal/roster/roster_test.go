package roster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidRollNo(t *testing.T) {
	t.Parallel()

	valid := []string{"123456789", "000000000", "987654321"}
	for _, s := range valid {
		require.True(t, ValidRollNo(s), "%q should be valid", s)
	}

	invalid := []string{"", "12345678", "1234567890", "12345678a", " 123456789", "123456789 ", "12345678\n9"}
	for _, s := range invalid {
		require.False(t, ValidRollNo(s), "%q should be invalid", s)
	}
}
