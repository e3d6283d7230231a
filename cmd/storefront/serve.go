package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/storefront-client/internal/config"
	"github.com/Sternrassler/storefront-client/pkg/client"
	"github.com/Sternrassler/storefront-client/pkg/listing"
	"github.com/Sternrassler/storefront-client/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newServeCommand(configFile *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve shared list feeds, health and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			products := listing.NewFeed(client.ProductQuery{}, a.client.ProductPages, a.cfg.FeedConfig("products"))
			branches := listing.NewFeed(client.BranchQuery{}, a.client.BranchPages, a.cfg.FeedConfig("branches"))
			defer products.Unmount()
			defer branches.Unmount()

			server := &http.Server{
				Addr:              addr,
				Handler:           newServeMux(a.redis, products, branches, a.logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info().Str("addr", addr).Msg("Starting storefront feed server")
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, "+config.EnvPrefix+"_SERVER_ADDR)")
	return cmd
}

func newServeMux(rdb *redis.Client, products *listing.Feed[client.Product, client.ProductQuery], branches *listing.Feed[client.Branch, client.BranchQuery], logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(rdb))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /feed/products", &feedHandler[client.Product, client.ProductQuery]{
		feed:   products,
		parse:  parseProductQuery,
		logger: logger,
	})
	mux.Handle("GET /feed/branches", &feedHandler[client.Branch, client.BranchQuery]{
		feed:   branches,
		parse:  parseBranchQuery,
		logger: logger,
	})
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := rdb.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "READY")
	}
}

// feedResponse is the JSON body of a feed endpoint.
type feedResponse[T any] struct {
	listing.View[T]
	Error string `json:"error,omitempty"`
}

// feedHandler exposes one shared Feed. The query string selects the query;
// more=1 is the scroll signal, with last as the index of the last visible item.
type feedHandler[T any, Q comparable] struct {
	feed   *listing.Feed[T, Q]
	parse  func(url.Values) Q
	logger zerolog.Logger
}

func (h *feedHandler[T, Q]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	ctx := r.Context()

	if !h.feed.SetQuery(ctx, h.parse(params)) {
		view := h.feed.View()
		if len(view.Items) == 0 && view.HasMore && !view.Loading {
			h.feed.Load(ctx)
		} else if params.Get("more") == "1" {
			last := len(view.Items) - 1
			if raw := params.Get("last"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n < 0 {
					http.Error(w, "last must be a non-negative integer", http.StatusBadRequest)
					return
				}
				last = n
			}
			h.feed.NearEnd(ctx, last)
		}
	}

	view := h.feed.View()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(feedResponse[T]{View: view, Error: view.Message()}); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to write feed response")
	}
}

func parseProductQuery(v url.Values) client.ProductQuery {
	branch, _ := strconv.ParseInt(v.Get("branch"), 10, 64)
	return client.ProductQuery{
		Search:   v.Get("search"),
		Category: v.Get("category"),
		BranchID: branch,
		Ordering: v.Get("ordering"),
	}
}

func parseBranchQuery(v url.Values) client.BranchQuery {
	return client.BranchQuery{
		City:   v.Get("city"),
		Search: v.Get("search"),
	}
}
