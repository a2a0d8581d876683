//go:build ignore

// Seeds a demo owner with a batch of contacts so a fresh instance has
// something to build campaigns from. Idempotent: re-running upserts on
// (owner_id, formatted_phone).
//
// Usage:
//
//	DATABASE_URL=postgres://... go run scripts/seed_demo_contacts.go
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

const demoOwner = "demo-owner"

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	contacts := []struct {
		First   string
		Arabic  string
		English string
		Phone   string
		Gender  string
	}{
		{"Ahmed", "أحمد العتيبي", "Ahmed Alotaibi", "966501230001", "male"},
		{"Fatima", "فاطمة الزهراني", "Fatima Alzahrani", "966501230002", "female"},
		{"Mohammed", "محمد القحطاني", "Mohammed Alqahtani", "966501230003", "male"},
		{"Noura", "نورة الشمري", "Noura Alshammari", "966501230004", "female"},
		{"Khalid", "خالد الدوسري", "Khalid Aldosari", "966501230005", "male"},
		{"Sara", "سارة المطيري", "Sara Almutairi", "966501230006", "female"},
		{"Omar", "عمر الحربي", "Omar Alharbi", "966501230007", "male"},
		{"Layla", "ليلى العنزي", "Layla Alanazi", "966501230008", "female"},
		{"Tariq", "", "Tariq Hassan", "966501230009", "unknown"},
		{"Reem", "ريم السبيعي", "", "966501230010", "female"},
	}

	fmt.Printf("Seeding %d contacts for owner %q...\n", len(contacts), demoOwner)

	seeded := 0
	for _, c := range contacts {
		_, err := db.ExecContext(ctx, `
			INSERT INTO morsel_contacts
				(id, owner_id, first_name, arabic_name, english_name,
				 formatted_phone, gender, is_selected, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, true, 'active', NOW(), NOW())
			ON CONFLICT (owner_id, formatted_phone) DO UPDATE SET
				first_name = EXCLUDED.first_name,
				arabic_name = EXCLUDED.arabic_name,
				english_name = EXCLUDED.english_name,
				gender = EXCLUDED.gender,
				updated_at = NOW()
		`, uuid.New(), demoOwner, c.First, c.Arabic, c.English, c.Phone, c.Gender)
		if err != nil {
			log.Printf("Warning seeding %s: %v", c.Phone, err)
			continue
		}
		fmt.Printf("   ✓ %s (%s)\n", c.First, c.Phone)
		seeded++
	}

	fmt.Println("\n✅ Seed completed")
	fmt.Printf("   • Contacts: %d\n", seeded)
	fmt.Printf("   • Owner: %s\n", demoOwner)
	fmt.Println("\nTry it:")
	fmt.Printf("   curl -H 'X-Owner-ID: %s' localhost:8080/api/campaigns\n", demoOwner)
	fmt.Printf("\n⏰ Completed at: %s\n", time.Now().Format(time.RFC3339))
}
