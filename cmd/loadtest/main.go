package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chats/internal/logger"
)

type options struct {
	baseURL       string
	users         int
	conversations int
	rate          int
	duration      time.Duration
	batch         int
}

var opts options

var rootCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Drive a running chats server with simulated users",
	Long: `loadtest registers users, spreads them over conversations and has each
user write to and read from its own conversation. A share of reads targets a
conversation the user is not part of; any visible message there is reported as
a visibility leak.

Start the server with "chats serve --loadtest" to keep the data apart.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	f := rootCmd.Flags()
	f.StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "server base URL")
	f.IntVar(&opts.users, "users", 1000, "number of simulated users")
	f.IntVar(&opts.conversations, "conversations", 100, "number of conversations to spread users across")
	f.IntVar(&opts.rate, "rate", 1, "requests per second per user")
	f.DurationVar(&opts.duration, "duration", time.Minute, "simulation length")
	f.IntVar(&opts.batch, "batch", 100, "users registered per worker")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if opts.users < 2 || opts.conversations < 2 || opts.rate < 1 || opts.batch < 1 {
		return errors.New("need at least 2 users, 2 conversations, rate >= 1 and batch >= 1")
	}
	if opts.conversations > opts.users {
		opts.conversations = opts.users
	}

	log, err := logger.New("info", "console")
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newClient(opts.baseURL)

	start := time.Now()
	users := registerUsers(ctx, c, log)
	log.Info("users_registered",
		zap.Int("registered", len(users)),
		zap.Int("requested", opts.users),
		zap.Duration("elapsed", time.Since(start)))
	if len(users) < opts.users/2 || len(users) < 2 {
		return errors.New("too many registration failures, aborting load test")
	}

	convs, membership, err := createConversations(ctx, c, users)
	if err != nil {
		return err
	}
	log.Info("conversations_created", zap.Int("count", len(convs)))

	st := newStats()
	simCtx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	started := time.Now()
	var wg sync.WaitGroup
	for i, u := range users {
		own := convs[membership[i]]
		foreign := convs[(membership[i]+1)%len(convs)]
		wg.Add(1)
		go func(u *user, own, foreign *conversation) {
			defer wg.Done()
			simulateUser(simCtx, c, u, own, foreign, st, log)
		}(u, own, foreign)
	}
	wg.Wait()

	st.report(log, time.Since(started))
	if st.leaks > 0 {
		return fmt.Errorf("%d reads returned messages from a foreign conversation", st.leaks)
	}
	return nil
}

func registerUsers(ctx context.Context, c *client, log *zap.Logger) []*user {
	slots := make([]*user, opts.users)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for lo := 0; lo < opts.users; lo += opts.batch {
		hi := lo + opts.batch
		if hi > opts.users {
			hi = opts.users
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				u, err := c.signup(ctx, i)
				if err != nil {
					mu.Lock()
					failed++
					if failed <= 10 {
						log.Warn("registration_failed", zap.Int("user", i), zap.Error(err))
					}
					mu.Unlock()
					continue
				}
				slots[i] = u
			}
		}(lo, hi)
	}
	wg.Wait()

	users := make([]*user, 0, len(slots))
	for _, u := range slots {
		if u != nil {
			users = append(users, u)
		}
	}
	return users
}

// createConversations assigns user i to conversation i mod n. The first
// member of each group creates it.
func createConversations(ctx context.Context, c *client, users []*user) ([]*conversation, []int, error) {
	n := opts.conversations
	if n > len(users) {
		n = len(users)
	}
	groups := make([][]*user, n)
	membership := make([]int, len(users))
	for i, u := range users {
		groups[i%n] = append(groups[i%n], u)
		membership[i] = i % n
	}

	convs := make([]*conversation, n)
	for i, group := range groups {
		ids := make([]string, 0, len(group))
		for _, u := range group {
			ids = append(ids, u.ID)
		}
		conv, err := c.createConversation(ctx, group[0], ids)
		if err != nil {
			return nil, nil, fmt.Errorf("create conversation %d: %w", i, err)
		}
		convs[i] = conv
	}
	return convs, membership, nil
}

func simulateUser(ctx context.Context, c *client, u *user, own, foreign *conversation, st *stats, log *zap.Logger) {
	ticker := time.NewTicker(time.Second / time.Duration(opts.rate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		roll := rand.Float32()
		start := time.Now()
		switch {
		case roll < 0.5:
			body := fmt.Sprintf("Test message from %s at %s", u.ID, start.Format(time.RFC3339))
			if err := c.sendMessage(ctx, u, own.ID, body); err != nil {
				if ctx.Err() == nil {
					st.failure()
					log.Debug("send_failed", zap.Error(err))
				}
				continue
			}
			st.success(opWrite, time.Since(start))
		case roll < 0.9:
			if _, err := c.listMessages(ctx, u, own.ID); err != nil {
				if ctx.Err() == nil {
					st.failure()
					log.Debug("read_failed", zap.Error(err))
				}
				continue
			}
			st.success(opRead, time.Since(start))
		default:
			page, err := c.listMessages(ctx, u, foreign.ID)
			if err != nil {
				if ctx.Err() == nil {
					st.failure()
					log.Debug("probe_failed", zap.Error(err))
				}
				continue
			}
			st.success(opProbe, time.Since(start))
			if page.Count > 0 {
				st.leak()
				log.Error("visibility_leak",
					zap.String("user_id", u.ID),
					zap.String("conversation_id", foreign.ID),
					zap.Int("visible", page.Count))
			}
		}
	}
}
