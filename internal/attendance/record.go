package attendance

import "time"

// Location is a reported client position.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Record is one attendance entry, unique per (session, roll number) and per
// (session, device fingerprint) when a fingerprint was captured.
type Record struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"sessionId"`
	Name              string    `json:"name"`
	UniversityRollNo  string    `json:"universityRollNo"`
	Section           string    `json:"section"`
	ClassRollNo       string    `json:"classRollNo"`
	Date              string    `json:"date"`
	Time              string    `json:"time"`
	Location          *Location `json:"location,omitempty"`
	DeviceFingerprint *string   `json:"deviceFingerprint,omitempty"`
	Status            string    `json:"status"`
	StudentID         *string   `json:"studentId,omitempty"`
	DistanceFromClass *float64  `json:"distanceFromClass,omitempty"`
	Manual            bool      `json:"manual"`
	Note              *string   `json:"note,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}
