package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/totegamma/cozykost"
	"github.com/totegamma/cozykost/collection"
)

type collectionSpec struct {
	name  cozykost.CollectionName
	short string
}

var (
	favoritesSpec = collectionSpec{name: cozykost.Favorites, short: "Manage favorite kosts"}
	savedSpec     = collectionSpec{name: cozykost.Saved, short: "Manage viewing history"}
)

// withCollection runs fn for the signed in user.
func withCollection(cmd *cobra.Command, fn func(ctx context.Context, a *app, owner string) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	owner, err := a.user()
	if err != nil {
		return err
	}
	return fn(cmd.Context(), a, owner)
}

func (a *app) hydrate(ctx context.Context, id string) (cozykost.Item, error) {
	kost, err := a.client.Kost(ctx, id)
	if err != nil {
		return cozykost.Item{}, fmt.Errorf("kost %s: %w", id, err)
	}
	return kost.AsItem(time.Now()), nil
}

func newCollectionCmd(spec collectionSpec) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(spec.name),
		Short: spec.short,
	}

	list := &cobra.Command{
		Use:     "list",
		Short:   "Print the collection once",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd, func(ctx context.Context, a *app, owner string) error {
				items, err := a.collections.Load(ctx, owner, spec.name)
				if err != nil {
					return err
				}
				return printItems(cmd.OutOrStdout(), items)
			})
		},
	}

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Print the collection every time it changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd, func(ctx context.Context, a *app, owner string) error {
				out := cmd.OutOrStdout()
				sub, err := a.collections.Subscribe(ctx, owner, spec.name, collectionHandler(cmd, spec))
				if err != nil {
					return err
				}
				defer sub.Unsubscribe()

				select {
				case <-ctx.Done():
				case <-sub.Done():
				}
				fmt.Fprintln(out)
				return nil
			})
		},
	}

	add := &cobra.Command{
		Use:   "add <kost-id>",
		Short: "Add a listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd, func(ctx context.Context, a *app, owner string) error {
				item, err := a.hydrate(ctx, args[0])
				if err != nil {
					return err
				}
				if err := a.collections.Add(ctx, owner, spec.name, item); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s\n", item.Name, spec.name)
				return nil
			})
		},
	}

	remove := &cobra.Command{
		Use:     "remove <kost-id>",
		Short:   "Remove a listing",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd, func(ctx context.Context, a *app, owner string) error {
				if err := a.collections.Remove(ctx, owner, spec.name, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n", args[0], spec.name)
				return nil
			})
		},
	}

	toggle := &cobra.Command{
		Use:   "toggle <kost-id>",
		Short: "Add the listing if absent, remove it otherwise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd, func(ctx context.Context, a *app, owner string) error {
				// toggle decides against the local view, so load it first
				if _, err := a.collections.Load(ctx, owner, spec.name); err != nil {
					return err
				}
				item, err := a.hydrate(ctx, args[0])
				if err != nil {
					return err
				}
				added, err := a.collections.Toggle(ctx, owner, spec.name, item)
				if err != nil {
					return err
				}
				if added {
					fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s\n", item.Name, spec.name)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n", item.Name, spec.name)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(list, watch, add, remove, toggle)
	return cmd
}

func collectionHandler(cmd *cobra.Command, spec collectionSpec) collection.Handler {
	out := cmd.OutOrStdout()
	return collection.Handler{
		OnSnapshot: func(items cozykost.Items) {
			fmt.Fprintf(out, "\n%s (%d) at %s\n", spec.name, len(items), time.Now().Format("15:04:05"))
			_ = printItems(out, items)
		},
		OnError: func(err error) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", spec.name, err)
		},
	}
}
