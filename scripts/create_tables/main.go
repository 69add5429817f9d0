package main

import (
	"log"

	"github.com/mahaj/chat-relay/pkg/db"
)

// Bootstraps the keyspace and tables for local development. Production
// schema changes belong in a migration tool.
func main() {
	hosts := []string{"localhost:9042"}

	sysSession, err := db.NewSession(hosts, "system")
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB system keyspace: %v", err)
	}
	err = sysSession.Query(`CREATE KEYSPACE IF NOT EXISTS chat WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
	sysSession.Close()
	if err != nil {
		log.Fatalf("Failed to create keyspace: %v", err)
	}

	session, err := db.NewSession(hosts, "chat")
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB chat keyspace: %v", err)
	}
	defer session.Close()

	tables := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			room_id text,
			created_at timestamp,
			message_id text,
			user_id text,
			username text,
			content text,
			PRIMARY KEY (room_id, created_at, message_id)
		) WITH CLUSTERING ORDER BY (created_at DESC, message_id DESC)`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id text PRIMARY KEY,
			email text,
			username text,
			password_hash text,
			created_at timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS users_by_email (
			email text PRIMARY KEY,
			user_id text,
			username text,
			password_hash text,
			created_at timestamp
		)`,
	}
	for _, stmt := range tables {
		if err := session.Query(stmt).Exec(); err != nil {
			log.Fatalf("Failed to create table: %v", err)
		}
	}

	log.Println("Schema created successfully")
}
