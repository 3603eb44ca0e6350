package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/mark-c-hall/movieshelf/internal/auth"
	"github.com/mark-c-hall/movieshelf/internal/catalog"
	"github.com/mark-c-hall/movieshelf/internal/config"
	"github.com/mark-c-hall/movieshelf/internal/models"
)

var nameFlag = flag.String("name", "", "login name of the new account")
var roleFlag = flag.String("role", models.RoleAdmin, "account role: admin or user")

// The password is read from MOVIESHELF_PASSWORD so it stays out of the
// shell history.
func main() {
	flag.Parse()

	name := strings.TrimSpace(*nameFlag)
	if name == "" {
		log.Fatalln("-name is required")
	}
	if *roleFlag != models.RoleAdmin && *roleFlag != models.RoleUser {
		log.Fatalf("invalid role %q", *roleFlag)
	}
	password := os.Getenv("MOVIESHELF_PASSWORD")
	if len(password) < 8 {
		log.Fatalln("MOVIESHELF_PASSWORD must hold at least 8 characters")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalln("Error loading config:", err)
	}

	ctx := context.Background()
	store, err := catalog.Open(ctx, cfg.DB.URL)
	if err != nil {
		log.Fatalln("Error connecting to database:", err)
	}
	defer store.Close()

	if err = store.SetupSchema(ctx); err != nil {
		log.Fatalln("Error setting up schema:", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalln(err)
	}
	id, err := store.CreateUser(ctx, name, hash, *roleFlag)
	if err != nil {
		log.Fatalln("Error creating user:", err)
	}
	log.Printf("Created %s %q (id %d)", *roleFlag, name, id)
}
