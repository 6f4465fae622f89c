package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victorivanov/backchannel/internal/auth"
	"github.com/victorivanov/backchannel/internal/backend"
	"github.com/victorivanov/backchannel/internal/chatsync"
	"github.com/victorivanov/backchannel/internal/config"
	"github.com/victorivanov/backchannel/internal/database"
	"github.com/victorivanov/backchannel/internal/feed"
	"github.com/victorivanov/backchannel/internal/feed/memfeed"
	"github.com/victorivanov/backchannel/internal/feed/wsfeed"
	"github.com/victorivanov/backchannel/internal/models"
	"github.com/victorivanov/backchannel/internal/service"
	"github.com/victorivanov/backchannel/internal/snowflake"
)

// Set via -ldflags at build time.
var version = "dev"

func main() {
	config.LoadEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "migrate":
		if hasFlag("--help", os.Args[2:]) {
			fmt.Println("Usage: backchannel-cli migrate")
			fmt.Println()
			fmt.Println("Run database migrations from the migrations/ directory.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  DATABASE_URL  PostgreSQL connection string (required)")
			return
		}
		os.Exit(runMigrate())
	case "seed":
		if hasFlag("--help", os.Args[2:]) {
			fmt.Println("Usage: backchannel-cli seed")
			fmt.Println()
			fmt.Println("Seed the database with demo data: 2 profiles, #general, #random and a few messages.")
			fmt.Println("Running it again leaves existing rows alone.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  DATABASE_URL  PostgreSQL connection string (required)")
			return
		}
		os.Exit(runSeed())
	case "health":
		if hasFlag("--help", os.Args[2:]) {
			fmt.Println("Usage: backchannel-cli health")
			fmt.Println()
			fmt.Println("Check if the backchannel server is running.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  SERVER_URL  Server base URL (default: http://localhost:8080)")
			return
		}
		os.Exit(runHealth())
	case "token":
		if hasFlag("--help", os.Args[2:]) || len(os.Args) < 3 {
			fmt.Println("Usage: backchannel-cli token <user-id|username>")
			fmt.Println()
			fmt.Println("Print an access token for a profile. Usernames are looked up in the database.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  JWT_SECRET    Token signing secret (required)")
			fmt.Println("  DATABASE_URL  PostgreSQL connection string (required for usernames)")
			return
		}
		os.Exit(runToken(os.Args[2]))
	case "chat":
		if hasFlag("--help", os.Args[2:]) {
			fmt.Println("Usage: backchannel-cli chat [--local] [channel]")
			fmt.Println()
			fmt.Println("Open a channel (ID or slug, default: general) and chat from the terminal.")
			fmt.Println("With --local the services run in this process against the database,")
			fmt.Println("without a server. Only this process sees the live updates.")
			fmt.Println()
			fmt.Println("Commands inside the chat:")
			fmt.Println("  /react <id> <emoji>   toggle a reaction")
			fmt.Println("  /reply <id>           reply to a message with the next line")
			fmt.Println("  /join <channel>       switch channel")
			fmt.Println("  /status online|busy   set presence")
			fmt.Println("  /quit                 leave")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  ACCESS_TOKEN  Bearer token, see 'backchannel-cli token' (required)")
			fmt.Println("  USER_ID       Profile ID the token belongs to (required)")
			fmt.Println("  SERVER_URL    Server base URL (default: http://localhost:8080)")
			fmt.Println("  GATEWAY_URL   WebSocket gateway URL (default: derived from SERVER_URL)")
			fmt.Println("  DATABASE_URL  PostgreSQL connection string (--local only, replaces ACCESS_TOKEN)")
			return
		}
		ref := "general"
		for _, a := range os.Args[2:] {
			if !strings.HasPrefix(a, "--") {
				ref = a
				break
			}
		}
		os.Exit(runChat(ref, hasFlag("--local", os.Args[2:])))
	case "version":
		fmt.Printf("backchannel-cli %s\n", version)
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: backchannel-cli <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  migrate  Run database migrations")
	fmt.Println("  seed     Seed demo data (profiles, channels, messages)")
	fmt.Println("  health   Check if the server is running")
	fmt.Println("  token    Print an access token for a profile")
	fmt.Println("  chat     Chat in a channel from the terminal")
	fmt.Println("  version  Print version info")
	fmt.Println()
	fmt.Println("Run 'backchannel-cli <command> --help' for details on a command.")
}

func hasFlag(flag string, args []string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "error: %s environment variable is required\n", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// --- migrate ---

func runMigrate() int {
	dbURL := requireEnv("DATABASE_URL")

	fmt.Println("connecting to database...")
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: migration init failed: %v\n", err)
		return 1
	}
	defer m.Close()

	fmt.Println("running migrations...")
	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintf(os.Stderr, "error: migration failed: %v\n", err)
		return 1
	}

	v, dirty, _ := m.Version()
	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Printf("no new migrations (current version: %d)\n", v)
	} else {
		fmt.Printf("migrations applied (version: %d, dirty: %v)\n", v, dirty)
	}
	return 0
}

// --- seed ---

func runSeed() int {
	dbURL := requireEnv("DATABASE_URL")
	ctx := context.Background()

	fmt.Println("connecting to database...")
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: database connection failed: %v\n", err)
		return 1
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: database ping failed: %v\n", err)
		return 1
	}

	sf, err := snowflake.NewGenerator(0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: snowflake init failed: %v\n", err)
		return 1
	}

	now := time.Now().UTC()

	tx, err := pool.Begin(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: starting transaction: %v\n", err)
		return 1
	}
	defer tx.Rollback(ctx)

	// Profiles.
	fmt.Println("creating profiles...")
	aliceID, err := seedProfile(ctx, tx, sf.Generate(), "alice", "Alice", now)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: creating profiles: %v\n", err)
		return 1
	}
	bobID, err := seedProfile(ctx, tx, sf.Generate(), "bob", "Bob", now)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: creating profiles: %v\n", err)
		return 1
	}

	// Channels.
	fmt.Println("creating channels...")
	generalID, err := seedChannel(ctx, tx, sf.Generate(), "general", "General")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: creating channels: %v\n", err)
		return 1
	}
	randomID, err := seedChannel(ctx, tx, sf.Generate(), "random", "Random")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: creating channels: %v\n", err)
		return 1
	}

	// Messages, only into empty channels.
	fmt.Println("creating messages...")
	var existing int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE channel_id IN ($1, $2)`, generalID, randomID,
	).Scan(&existing); err != nil {
		fmt.Fprintf(os.Stderr, "error: counting messages: %v\n", err)
		return 1
	}
	if existing == 0 {
		_, err = tx.Exec(ctx,
			`INSERT INTO messages (id, channel_id, author_id, content, created_at) VALUES ($1,$2,$3,$4,$5), ($6,$7,$8,$9,$10), ($11,$12,$13,$14,$15)
			 ON CONFLICT (id) DO NOTHING`,
			sf.Generate(), generalID, aliceID, "Welcome to #general!", now,
			sf.Generate(), generalID, bobID, "Hey Alice, glad to be here!", now.Add(time.Second),
			sf.Generate(), randomID, aliceID, "This is the random channel.", now,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: creating messages: %v\n", err)
			return 1
		}
	}

	if err := tx.Commit(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: committing transaction: %v\n", err)
		return 1
	}

	fmt.Println()
	fmt.Println("seed complete:")
	fmt.Printf("  profiles: alice (%d), bob (%d)\n", aliceID, bobID)
	fmt.Printf("  channels: #general (%d), #random (%d)\n", generalID, randomID)
	if existing == 0 {
		fmt.Printf("  messages: 3 messages in #general and #random\n")
	} else {
		fmt.Printf("  messages: %d already present, none added\n", existing)
	}
	return 0
}

// seedProfile inserts a profile unless the username exists and returns the
// stored ID either way.
func seedProfile(ctx context.Context, tx pgx.Tx, id int64, username, displayName string, now time.Time) (int64, error) {
	if _, err := tx.Exec(ctx,
		`INSERT INTO profiles (id, username, display_name, status, created_at) VALUES ($1,$2,$3,'offline',$4)
		 ON CONFLICT (username) DO NOTHING`,
		id, username, displayName, now,
	); err != nil {
		return 0, err
	}
	var stored int64
	err := tx.QueryRow(ctx, `SELECT id FROM profiles WHERE username = $1`, username).Scan(&stored)
	return stored, err
}

func seedChannel(ctx context.Context, tx pgx.Tx, id int64, slug, name string) (int64, error) {
	if _, err := tx.Exec(ctx,
		`INSERT INTO channels (id, slug, name) VALUES ($1,$2,$3)
		 ON CONFLICT (slug) DO NOTHING`,
		id, slug, name,
	); err != nil {
		return 0, err
	}
	var stored int64
	err := tx.QueryRow(ctx, `SELECT id FROM channels WHERE slug = $1`, slug).Scan(&stored)
	return stored, err
}

// --- health ---

func runHealth() int {
	serverURL := envOr("SERVER_URL", "http://localhost:8080")
	url := serverURL + "/health"

	fmt.Printf("checking %s ...\n", url)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("status: %d\n", resp.StatusCode)
	if len(body) > 0 {
		fmt.Printf("body:   %s\n", string(body))
	}

	if resp.StatusCode == http.StatusOK {
		fmt.Println("server is healthy")
		return 0
	}
	fmt.Fprintln(os.Stderr, "server returned non-200 status")
	return 1
}

// --- token ---

func runToken(who string) int {
	secret := requireEnv("JWT_SECRET")

	userID, err := strconv.ParseInt(who, 10, 64)
	if err != nil {
		ctx := context.Background()
		pool, err := pgxpool.New(ctx, requireEnv("DATABASE_URL"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: database connection failed: %v\n", err)
			return 1
		}
		defer pool.Close()

		p, err := database.NewProfileRepository(pool).GetByUsername(ctx, who)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: looking up %q: %v\n", who, err)
			return 1
		}
		if p == nil {
			fmt.Fprintf(os.Stderr, "error: no profile named %q\n", who)
			return 1
		}
		userID = p.ID
	}

	token, err := auth.NewTokenService(secret).GenerateAccessToken(userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: signing token: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "USER_ID=%d\n", userID)
	fmt.Println(token)
	return 0
}

// --- chat ---

func runChat(ref string, local bool) int {
	load := config.LoadClient
	if local {
		load = config.LoadLocalClient
	}
	cfg, err := load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		api chatsync.Backend
		sub feed.Subscriber
	)
	if local {
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: database connection failed: %v\n", err)
			return 1
		}
		defer pool.Close()

		bus := memfeed.New(slog.Default())
		defer bus.Close()

		svc, err := localServices(pool, bus)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		api, sub = backend.NewLocal(svc, cfg.UserID), bus
	} else {
		gw := wsfeed.New(cfg.GatewayURL, cfg.AccessToken)
		defer gw.Close()
		api, sub = backend.NewHTTP(backend.HTTPConfig{BaseURL: cfg.ServerURL, Token: cfg.AccessToken}), gw
	}

	client := chatsync.New(api, sub, chatsync.Options{
		UserID:            cfg.UserID,
		TypingTimeout:     cfg.TypingTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})
	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	r := &renderer{seen: make(map[int64]bool)}
	if err := join(ctx, client, api, r, ref); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return waitRun(runErr)
		case err := <-runErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				return 1
			}
			return 0
		case <-client.Updates():
			r.render(client.Snapshot())
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				stop()
				return waitRun(runErr)
			}
			if err := command(ctx, client, api, r, line); err != nil {
				fmt.Fprintf(os.Stderr, "! %v\n", err)
			}
		}
	}
}

// localNodeID keeps IDs minted by an in-process chat apart from the
// server's (node 1) and the seed command's (node 0).
const localNodeID = 2

// localServices builds the services over pool, publishing to bus. Presence
// and typing skip the Redis mirror.
func localServices(pool *pgxpool.Pool, bus feed.Publisher) (backend.Services, error) {
	sf, err := snowflake.NewGenerator(localNodeID)
	if err != nil {
		return backend.Services{}, fmt.Errorf("snowflake init failed: %w", err)
	}

	profiles := database.NewProfileRepository(pool)
	channels := database.NewChannelRepository(pool)
	messages := database.NewMessageRepository(pool)

	return backend.Services{
		Channels:  service.NewChannelService(channels),
		Messages:  service.NewMessageService(messages, channels, sf, bus),
		Profiles:  service.NewProfileService(profiles, nil, bus),
		Reactions: service.NewReactionService(database.NewReactionRepository(pool), messages, bus),
		Receipts:  service.NewReceiptService(database.NewReceiptRepository(pool), bus),
		Typing:    service.NewTypingService(database.NewTypingRepository(pool), profiles, nil, bus),
	}, nil
}

func waitRun(runErr <-chan error) int {
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func join(ctx context.Context, client *chatsync.Client, api chatsync.Backend, r *renderer, ref string) error {
	ch, err := api.FetchChannel(ctx, ref)
	if err != nil {
		return fmt.Errorf("channel %q: %w", ref, err)
	}
	if err := client.OpenChannel(ctx, ch.ID); err != nil {
		return err
	}
	if err := client.MarkVisible(ctx); err != nil {
		return err
	}
	fmt.Printf("-- #%s (%d) --\n", ch.Slug, ch.ID)
	r.reset()
	r.render(client.Snapshot())
	return nil
}

func command(ctx context.Context, client *chatsync.Client, api chatsync.Backend, r *renderer, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "/react":
		if len(fields) != 3 {
			return errors.New("usage: /react <id> <emoji>")
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return err
		}
		return client.ToggleReaction(ctx, id, fields[2])
	case "/reply":
		if len(fields) != 2 {
			return errors.New("usage: /reply <id>")
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return err
		}
		return client.SetReplyTarget(ctx, id)
	case "/join":
		if len(fields) != 2 {
			return errors.New("usage: /join <channel>")
		}
		return join(ctx, client, api, r, fields[1])
	case "/status":
		if len(fields) != 2 {
			return errors.New("usage: /status online|busy")
		}
		return client.SetStatus(ctx, fields[1])
	}

	_, err := client.SendMessage(ctx, models.MessageDraft{Content: line})
	return err
}

// renderer prints confirmed messages once and the typing line when it
// changes.
type renderer struct {
	seen   map[int64]bool
	typing string
}

func (r *renderer) reset() {
	clear(r.seen)
	r.typing = ""
}

func (r *renderer) render(v chatsync.View) {
	if v.Loading {
		return
	}
	for _, m := range v.Messages {
		if m.Pending || r.seen[m.ID] {
			continue
		}
		r.seen[m.ID] = true

		author := strconv.FormatInt(m.AuthorID, 10)
		if m.Author != nil {
			author = m.Author.Name()
		}
		reply := ""
		if m.Parent != nil {
			reply = fmt.Sprintf(" (reply to %d)", m.Parent.ID)
		}
		fmt.Printf("[%s] %d <%s>%s %s\n", m.CreatedAt.Local().Format("15:04"), m.ID, author, reply, m.Content)
	}
	if v.Typing != r.typing {
		r.typing = v.Typing
		if v.Typing != "" {
			fmt.Printf("   %s\n", v.Typing)
		}
	}
}
