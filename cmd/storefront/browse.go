package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/Sternrassler/storefront-client/pkg/client"
	"github.com/Sternrassler/storefront-client/pkg/listing"
	"github.com/Sternrassler/storefront-client/pkg/pagination"
	"github.com/spf13/cobra"
)

type browseOptions struct {
	pages  int
	asJSON bool
}

func newBrowseCommand(configFile *string) *cobra.Command {
	opts := &browseOptions{}

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Page through a storefront list",
	}
	cmd.PersistentFlags().IntVarP(&opts.pages, "pages", "p", 1, "pages to load (0 loads all)")
	cmd.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print one JSON object per line")

	cmd.AddCommand(
		newBrowseProductsCommand(configFile, opts),
		newBrowseBranchesCommand(configFile, opts),
		newBrowseOrdersCommand(configFile, opts),
		newBrowseAddressesCommand(configFile, opts),
	)
	return cmd
}

func newBrowseProductsCommand(configFile *string, opts *browseOptions) *cobra.Command {
	var q client.ProductQuery

	cmd := &cobra.Command{
		Use:   "products",
		Short: "List catalog products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			feed := listing.NewFeed(q, a.client.ProductPages, a.cfg.FeedConfig("products"))
			defer feed.Unmount()

			return browseFeed(cmd.Context(), feed, opts, cmd.OutOrStdout(),
				[]string{"ID", "NAME", "CATEGORY", "PRICE", "STOCK", "RX"},
				func(p client.Product) []string {
					return []string{
						strconv.FormatInt(p.ID, 10),
						p.Name,
						p.Category,
						strconv.FormatFloat(p.Price, 'f', 2, 64),
						yesNo(p.InStock),
						yesNo(p.RequiresPrescription),
					}
				})
		},
	}
	cmd.Flags().StringVarP(&q.Search, "search", "s", "", "search term")
	cmd.Flags().StringVar(&q.Category, "category", "", "category slug")
	cmd.Flags().Int64Var(&q.BranchID, "branch", 0, "only products stocked at this branch")
	cmd.Flags().StringVar(&q.Ordering, "ordering", "", "sort field, prefix with - for descending")
	return cmd
}

func newBrowseBranchesCommand(configFile *string, opts *browseOptions) *cobra.Command {
	var q client.BranchQuery

	cmd := &cobra.Command{
		Use:   "branches",
		Short: "List pharmacy branches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			feed := listing.NewFeed(q, a.client.BranchPages, a.cfg.FeedConfig("branches"))
			defer feed.Unmount()

			return browseFeed(cmd.Context(), feed, opts, cmd.OutOrStdout(),
				[]string{"ID", "NAME", "CITY", "ADDRESS", "OPEN"},
				func(b client.Branch) []string {
					return []string{strconv.FormatInt(b.ID, 10), b.Name, b.City, b.Address, yesNo(b.OpenNow)}
				})
		},
	}
	cmd.Flags().StringVar(&q.City, "city", "", "city name")
	cmd.Flags().StringVarP(&q.Search, "search", "s", "", "search term")
	return cmd
}

func newBrowseOrdersCommand(configFile *string, opts *browseOptions) *cobra.Command {
	var q client.OrderQuery

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List your orders (requires login)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			feed := listing.NewFeed(q, a.client.OrderPages, a.cfg.FeedConfig("orders"))
			defer feed.Unmount()

			return browseFeed(cmd.Context(), feed, opts, cmd.OutOrStdout(),
				[]string{"ID", "STATUS", "ITEMS", "TOTAL", "CREATED"},
				func(o client.Order) []string {
					return []string{
						strconv.FormatInt(o.ID, 10),
						o.Status,
						strconv.Itoa(len(o.Items)),
						strconv.FormatFloat(o.Total, 'f', 2, 64),
						o.CreatedAt,
					}
				})
		},
	}
	cmd.Flags().StringVar(&q.Status, "status", "", "order status")
	return cmd
}

func newBrowseAddressesCommand(configFile *string, opts *browseOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "addresses",
		Short: "List your saved addresses (requires login)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			// addresses take no filter; struct{} keeps a single session
			source := func(struct{}) pagination.FetchFunc[client.Address] {
				return a.client.AddressPages()
			}
			feed := listing.NewFeed(struct{}{}, source, a.cfg.FeedConfig("addresses"))
			defer feed.Unmount()

			return browseFeed(cmd.Context(), feed, opts, cmd.OutOrStdout(),
				[]string{"ID", "LABEL", "STREET", "CITY", "DEFAULT"},
				func(ad client.Address) []string {
					return []string{strconv.FormatInt(ad.ID, 10), ad.Label, ad.Street, ad.City, yesNo(ad.IsDefault)}
				})
		},
	}
}

// browseFeed loads pages the way a scrolling list does, printing each page as it arrives.
func browseFeed[T any, Q comparable](ctx context.Context, feed *listing.Feed[T, Q], opts *browseOptions, out io.Writer, header []string, row func(T) []string) error {
	var tw *tabwriter.Writer
	var enc *json.Encoder
	if opts.asJSON {
		enc = json.NewEncoder(out)
	} else {
		tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(header, "\t"))
	}

	printed := 0
	pages := 0
	feed.Load(ctx)

	for {
		view := feed.View()
		if view.Failed {
			if tw != nil {
				tw.Flush()
			}
			return fmt.Errorf("load page %d: %w", pages+1, view.Err)
		}
		pages++

		for _, item := range view.Items[printed:] {
			if enc != nil {
				if err := enc.Encode(item); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintln(tw, strings.Join(row(item), "\t"))
		}
		printed = len(view.Items)

		if view.Empty && tw != nil {
			tw.Flush()
			fmt.Fprintln(out, "No results.")
			return nil
		}
		if !view.HasMore || (opts.pages > 0 && pages >= opts.pages) {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		// the last visible row is the end of the list
		feed.NearEnd(ctx, printed-1)
	}

	if tw != nil {
		return tw.Flush()
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
