package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/buswatch/buswatch_core/internal/cache"
	"github.com/buswatch/buswatch_core/internal/db"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	config := db.LoadConfigFromEnv()

	fmt.Println("🔗 Testing database connection...")
	fmt.Printf("   Host: %s:%d\n", config.Host, config.Port)
	fmt.Printf("   User: %s\n", config.User)
	fmt.Printf("   Database: %s\n\n", config.Database)

	pool, err := db.GetDB()
	if err != nil {
		log.Fatalf("❌ Failed to connect: %v\n", err)
	}
	defer db.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("❌ Failed to ping database: %v\n", err)
	}

	fmt.Println("✅ Database connection successful!")

	// Check PostgreSQL version
	var pgVersion string
	if err := pool.QueryRow(ctx, "SELECT version()").Scan(&pgVersion); err != nil {
		log.Printf("⚠️  Could not get PostgreSQL version: %v\n", err)
	} else {
		fmt.Printf("📊 PostgreSQL Version:\n   %s\n\n", pgVersion)
	}

	// Check existing tables
	fmt.Println("📋 Checking existing tables...")
	rows, err := pool.Query(ctx, `
		SELECT tablename
		FROM pg_tables
		WHERE schemaname = 'public'
		ORDER BY tablename
	`)
	if err != nil {
		log.Printf("⚠️  Could not list tables: %v\n", err)
	} else {
		defer rows.Close()
		tableCount := 0
		for rows.Next() {
			var tablename string
			if err := rows.Scan(&tablename); err != nil {
				continue
			}
			fmt.Printf("   - %s\n", tablename)
			tableCount++
		}
		if tableCount == 0 {
			fmt.Println("   (no tables found - schema needs to be created)")
		}
		fmt.Printf("\n   Total: %d tables\n", tableCount)
	}

	// Check Redis
	fmt.Println("\n🔗 Testing Redis connection...")
	if err := cache.HealthCheck(ctx); err != nil {
		fmt.Printf("⚠️  Redis NOT reachable: %v\n", err)
		fmt.Println("   → Trend caching and rate limiting will be unavailable")
	} else {
		fmt.Println("✅ Redis connection successful!")
	}

	fmt.Println("\n✅ Connection test completed!")
}
