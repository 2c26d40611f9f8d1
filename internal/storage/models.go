package storage

type SessionValue struct {
	Key       string
	Value     string
	UpdatedAt int64
}

type PendingSaveRow struct {
	ID            string
	UserID        string
	Payload       string
	Status        string
	Attempts      int64
	LastError     string
	RemoteID      string
	NextAttemptAt int64
	CreatedAt     int64
	UpdatedAt     int64
}
