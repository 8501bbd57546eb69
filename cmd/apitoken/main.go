// Command apitoken manages gateway API tokens directly against the
// database: create, list, and revoke. The token secret is printed once
// at creation and never retrievable afterwards — the gateway itself
// never exposes it.
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

// tokenPrefix marks gateway-issued secrets so they are recognizable in
// configs and secret scanners.
const tokenPrefix = "gwk_"

func main() {
	godotenv.Load() //nolint:errcheck

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "revoke":
		err = runRevoke(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: apitoken <command> [flags]

commands:
  create  -name <name> [-permissions read,write] [-ttl 720h]
  list
  revoke  -id <token-id>

The database URL is read from the DATABASE_URL environment variable
(a .env file in the working directory is honored) or the -db flag.`)
}

func openDB(url string) (*sql.DB, error) {
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return nil, fmt.Errorf("no database URL: set DATABASE_URL or pass -db")
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

func newSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return tokenPrefix + hex.EncodeToString(buf), nil
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	dbURL := fs.String("db", "", "database URL (default $DATABASE_URL)")
	name := fs.String("name", "", "token name (required)")
	permsFlag := fs.String("permissions", "", "comma-separated permission labels")
	ttl := fs.Duration("ttl", 0, "time until expiry (0 = never expires)")
	fs.Parse(args) //nolint:errcheck

	if *name == "" {
		return fmt.Errorf("-name is required")
	}

	db, err := openDB(*dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	secret, err := newSecret()
	if err != nil {
		return err
	}

	var perms []string
	for _, p := range strings.Split(*permsFlag, ",") {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}
	permsJSON, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("encoding permissions: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	var expires *time.Time
	if *ttl > 0 {
		t := now.Add(*ttl)
		expires = &t
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const query = `INSERT INTO api_tokens (id, name, token, permissions, status, expires_at, created_at)
	               VALUES ($1, $2, $3, $4, 'active', $5, $6)`
	if _, err := db.ExecContext(ctx, query, id, *name, secret, permsJSON, expires, now); err != nil {
		return fmt.Errorf("inserting token: %w", err)
	}

	fmt.Printf("created token %q\n", *name)
	fmt.Printf("  id:    %s\n", id)
	if expires != nil {
		fmt.Printf("  expires: %s\n", expires.Format(time.RFC3339))
	}
	fmt.Printf("  token: %s\n", secret)
	fmt.Println("store the token now; it cannot be shown again")
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dbURL := fs.String("db", "", "database URL (default $DATABASE_URL)")
	fs.Parse(args) //nolint:errcheck

	db, err := openDB(*dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const query = `SELECT id, name, status, expires_at, last_used_at, created_at
	               FROM api_tokens ORDER BY created_at DESC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("listing tokens: %w", err)
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tEXPIRES\tLAST USED\tCREATED")
	for rows.Next() {
		var (
			id, name, status  string
			expires, lastUsed sql.NullTime
			created           time.Time
		)
		if err := rows.Scan(&id, &name, &status, &expires, &lastUsed, &created); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			id, name, status,
			nullTime(expires, "never"),
			nullTime(lastUsed, "never"),
			created.Format("2006-01-02"),
		)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing tokens: %w", err)
	}
	return w.Flush()
}

func nullTime(t sql.NullTime, fallback string) string {
	if !t.Valid {
		return fallback
	}
	return t.Time.Format("2006-01-02 15:04")
}

func runRevoke(args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	dbURL := fs.String("db", "", "database URL (default $DATABASE_URL)")
	id := fs.String("id", "", "token id (required)")
	fs.Parse(args) //nolint:errcheck

	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	db, err := openDB(*dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := db.ExecContext(ctx, `UPDATE api_tokens SET status = 'revoked' WHERE id = $1`, *id)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no token with id %s", *id)
	}
	fmt.Printf("revoked token %s\n", *id)
	return nil
}
