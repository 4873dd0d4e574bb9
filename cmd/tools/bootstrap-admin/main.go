// Command bootstrap-admin seeds or updates an administrator account in the
// datastore.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"lanstream/internal/models"
	"lanstream/internal/storage"
)

func main() {
	var (
		jsonPath    string
		postgresDSN string
		username    string
		name        string
		password    string
	)

	flag.StringVar(&jsonPath, "json", "", "Path to the JSON datastore file")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&username, "username", "", "Login name for the admin account")
	flag.StringVar(&name, "name", "Administrator", "Display name for the admin account")
	flag.StringVar(&password, "password", "", "Password for the admin account")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}
	if strings.TrimSpace(username) == "" {
		fatalf("--username is required")
	}
	if len(password) < 8 {
		fatalf("--password must be at least 8 characters")
	}
	if strings.TrimSpace(name) == "" {
		fatalf("--name cannot be empty")
	}

	repo, err := openRepository(jsonPath, postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeRepository(repo)

	user, created, err := bootstrapAdmin(repo, strings.TrimSpace(username), strings.TrimSpace(name), password)
	if err != nil {
		fatalf("bootstrap admin: %v", err)
	}

	state := "updated"
	if created {
		state = "created"
	}
	fmt.Printf("Admin user %s (%s) %s successfully.\n", user.Username, user.Name, state)
	fmt.Println("Remember to rotate this password after the first login.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(jsonPath, postgresDSN string) (storage.Repository, error) {
	if jsonPath != "" {
		return storage.NewJSONRepository(jsonPath)
	}
	return storage.NewPostgresRepository(postgresDSN)
}

func closeRepository(repo storage.Repository) {
	type closer interface {
		Close(context.Context) error
	}
	if c, ok := repo.(closer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	}
}

func bootstrapAdmin(repo storage.Repository, username, name, password string) (models.User, bool, error) {
	normalized := strings.ToLower(username)
	users, err := repo.ListUsers()
	if err != nil {
		return models.User{}, false, err
	}
	for _, existing := range users {
		if existing.Username == normalized {
			return promoteAdmin(repo, existing, name, password)
		}
	}

	user, err := repo.CreateUser(storage.CreateUserParams{
		Name:     name,
		Username: normalized,
		Password: password,
		Role:     "admin",
	})
	if err != nil {
		return models.User{}, false, err
	}
	return user, true, nil
}

// promoteAdmin makes an existing account an administrator and resets its
// password and name to the supplied values.
func promoteAdmin(repo storage.Repository, existing models.User, name, password string) (models.User, bool, error) {
	role := "admin"
	update := storage.UserUpdate{
		Password: &password,
		Role:     &role,
	}
	if existing.Name != name {
		update.Name = &name
	}
	updated, err := repo.UpdateUser(existing.ID, update)
	if err != nil {
		return models.User{}, false, err
	}
	return updated, false, nil
}
