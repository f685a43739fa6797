// Command seed fills a development database with a small demo
// neighborhood: three parents sharing a group, their children, and an
// open care request.
package main

import (
	"context"
	"log"
	"time"

	"carepool/internal/care"
	"carepool/internal/config"
	"carepool/internal/database"
	"carepool/internal/database/migrations"
	"carepool/internal/group"
	"carepool/internal/logger"
	"carepool/internal/notify"
	"carepool/internal/session"
	"carepool/internal/util"

	"github.com/google/uuid"
)

type parent struct {
	name  string
	email string
	child string
}

func main() {
	ctx := context.Background()
	cfg := config.NewConfig()
	logg := logger.New(cfg)

	db := database.NewDatabase()
	if err := db.Connect(ctx, cfg.DatabaseURL()); err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer db.Close()

	if err := migrations.NewMigrator(db.Pool, logg).Up(ctx, 0); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	notifier := notify.NewNotifier(logg, &db, nil, nil)
	sessions := session.NewManager(logg, &db)
	groups := group.NewManager(logg, &db, notifier)
	careMgr := care.NewManager(logg, &db, notifier)

	parents := []parent{
		{name: "Anna de Vries", email: "anna@example.com", child: "Sem"},
		{name: "Bram Jansen", email: "bram@example.com", child: "Lotte"},
		{name: "Carlijn Bakker", email: "carlijn@example.com", child: "Milan"},
	}

	users := make([]uuid.UUID, 0, len(parents))
	children := make([]uuid.UUID, 0, len(parents))
	for _, p := range parents {
		user, err := sessions.Register(ctx, session.RegisterParams{
			Name:     p.name,
			Email:    p.email,
			Password: "welkom123",
		})
		if err != nil {
			log.Fatalf("failed to register %s: %v", p.email, err)
		}
		child, err := sessions.AddChild(ctx, user.ID, session.AddChildParams{Name: p.child})
		if err != nil {
			log.Fatalf("failed to add child for %s: %v", p.email, err)
		}
		users = append(users, user.ID)
		children = append(children, child.ID)
	}

	g, err := groups.CreateGroup(ctx, users[0], group.CreateGroupParams{
		Name:        "Vondelpark Ouders",
		Description: "Childcare swap for the neighborhood",
	})
	if err != nil {
		log.Fatalf("failed to create group: %v", err)
	}

	for _, i := range []int{1, 2} {
		invite, err := groups.Invite(ctx, users[0], g.ID, group.InviteParams{Email: parents[i].email})
		if err != nil {
			log.Fatalf("failed to invite %s: %v", parents[i].email, err)
		}
		if _, err := groups.AcceptInvite(ctx, users[i], invite.ID); err != nil {
			log.Fatalf("failed to accept invite for %s: %v", parents[i].email, err)
		}
	}

	date := time.Now().AddDate(0, 0, 7).Truncate(24 * time.Hour)
	if _, err := careMgr.CreateRequest(ctx, users[0], care.CreateRequestParams{
		GroupID:   g.ID,
		ChildID:   children[0],
		Date:      date,
		StartTime: "14:00",
		EndTime:   "17:00",
		Notes:     util.Some("Dentist appointment, back by five"),
	}); err != nil {
		log.Fatalf("failed to create request: %v", err)
	}

	log.Printf("seeded group %s with %d parents", g.ID, len(parents))
}
