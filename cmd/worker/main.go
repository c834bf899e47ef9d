package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

// Worker consumes check-in events and flags device fingerprints shared
// across roll numbers, a sign of one phone checking in several students.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "qrattend:checkins")
	}

	ledger := attendance.NewLedger(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != "checkin" {
			continue
		}
		if err := audit(ctx, ledger, msg.Body); err != nil {
			log.Printf("audit record %s failed: %v", msg.Body, err)
		}
	}

	log.Println("worker stopped")
}

func audit(ctx context.Context, ledger *attendance.Ledger, id string) error {
	rec, err := ledger.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.DeviceFingerprint == nil || *rec.DeviceFingerprint == "" {
		return nil
	}

	others, err := ledger.FingerprintReuse(ctx, *rec.DeviceFingerprint, rec.UniversityRollNo)
	if err != nil {
		return err
	}
	if len(others) == 0 {
		return nil
	}

	note := fmt.Sprintf("device shared with %s", strings.Join(others, ", "))
	log.Printf("record %s: %s", rec.ID, note)
	return ledger.SetNote(ctx, rec.ID, note)
}
