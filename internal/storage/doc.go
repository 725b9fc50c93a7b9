package storage

// Package storage keeps the feed history: every dispensing attempt,
// successful or not, so the control panel can show what the feeder has
// been doing while nobody watched.
