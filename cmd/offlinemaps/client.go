package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/signalsfoundry/offline-maps/internal/definition"
	"github.com/signalsfoundry/offline-maps/internal/events"
	"github.com/signalsfoundry/offline-maps/internal/rpc"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type clientOptions struct {
	server string
	output string
}

func addClientFlags(cmd *cobra.Command, o *clientOptions) {
	cmd.Flags().StringVar(&o.server, "server", "localhost:50051", "address of the offline regions server")
	cmd.Flags().StringVarP(&o.output, "output", "o", "text", "output format: text, json or yaml")
}

func withClient(cmd *cobra.Command, o *clientOptions, fn func(context.Context, *rpc.Client) error) error {
	client, err := rpc.Dial(o.server)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(cmd.Context(), client)
}

// regionFile is the YAML layout accepted by download --file.
type regionFile struct {
	Definition map[string]any `yaml:"definition"`
	Style      map[string]any `yaml:"style"`
}

type downloadOptions struct {
	clientOptions
	file    string
	channel string
	token   string
	watch   bool

	id       string
	geometry string
	coords   string
	styleURL string
	minZoom  float64
	maxZoom  float64
	radius   float64
	mode     string
}

func newDownloadCmd(_ *rootOptions) *cobra.Command {
	o := &downloadOptions{}
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Start downloading a region and its style pack",
		RunE: func(cmd *cobra.Command, _ []string) error {
			def, style, err := o.records()
			if err != nil {
				return err
			}
			if o.channel == "" {
				o.channel = "offline-" + uuid.NewString()
			}
			return withClient(cmd, &o.clientOptions, func(ctx context.Context, client *rpc.Client) error {
				var sub *rpc.Subscription
				if o.watch {
					if sub, err = client.Subscribe(ctx, o.channel); err != nil {
						return err
					}
				}
				if err := client.DownloadOfflineRegion(ctx, def, style, o.channel, o.token); err != nil {
					return err
				}
				if sub == nil {
					return printValue(cmd.OutOrStdout(), o.output, map[string]any{"channel": o.channel, "result": "started"})
				}
				return printEvents(cmd.OutOrStdout(), o.output, sub)
			})
		},
	}
	addClientFlags(cmd, &o.clientOptions)
	f := cmd.Flags()
	f.StringVarP(&o.file, "file", "f", "", "YAML file with definition and style records")
	f.StringVar(&o.channel, "channel", "", "event channel name, generated when empty")
	f.StringVar(&o.token, "token", os.Getenv("OFFLINE_ACCESS_TOKEN"), "access token")
	f.BoolVarP(&o.watch, "watch", "w", false, "stream the download events until it finishes")
	f.StringVar(&o.id, "id", "", "region id")
	f.StringVar(&o.geometry, "geometry", "point", "point, lineString, polygon, multiPoint or multiPolygon")
	f.StringVar(&o.coords, "coords", "", "lon,lat pairs separated by ';'")
	f.StringVar(&o.styleURL, "style-url", "", "map style URL")
	f.Float64Var(&o.minZoom, "min-zoom", 0, "minimum zoom")
	f.Float64Var(&o.maxZoom, "max-zoom", 14, "maximum zoom")
	f.Float64Var(&o.radius, "radius", 0, "radius in metres around a point, 0 keeps the default")
	f.StringVar(&o.mode, "glyphs", "ideographsRasterizedLocally", "glyph rasterization mode")
	return cmd
}

func (o *downloadOptions) records() (map[string]any, map[string]any, error) {
	if o.file != "" {
		data, err := os.ReadFile(o.file)
		if err != nil {
			return nil, nil, err
		}
		var rf regionFile
		if err := yaml.Unmarshal(data, &rf); err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", o.file, err)
		}
		if rf.Definition == nil || rf.Style == nil {
			return nil, nil, fmt.Errorf("%s: definition and style are required", o.file)
		}
		return rf.Definition, rf.Style, nil
	}

	coords, err := parseCoords(o.coords)
	if err != nil {
		return nil, nil, err
	}
	def := map[string]any{
		definition.KeyID:          o.id,
		definition.KeyGeometry:    o.geometry,
		definition.KeyCoordinates: coords,
		definition.KeyMapStyleURL: o.styleURL,
		definition.KeyMinZoom:     o.minZoom,
		definition.KeyMaxZoom:     o.maxZoom,
	}
	if o.radius > 0 {
		def[definition.KeyRadius] = o.radius
	}
	style := map[string]any{
		definition.KeyMapStyleURL: o.styleURL,
		definition.KeyMode:        o.mode,
	}
	return def, style, nil
}

// parseCoords reads "lon,lat;lon,lat" into the wire list form.
func parseCoords(s string) ([]any, error) {
	var out []any
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.Split(pair, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("coordinate %q: want lon,lat", pair)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("coordinate %q: %w", pair, err)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("coordinate %q: %w", pair, err)
		}
		out = append(out, []any{lon, lat})
	}
	if len(out) == 0 {
		return nil, errors.New("--coords or --file is required")
	}
	return out, nil
}

func newRegionsCmd(_ *rootOptions) *cobra.Command {
	o := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "regions",
		Short: "List downloaded region ids",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, o, func(ctx context.Context, client *rpc.Client) error {
				ids, err := client.DownloadedRegionIDs(ctx)
				if err != nil {
					return err
				}
				return printValue(cmd.OutOrStdout(), o.output, ids)
			})
		},
	}
	addClientFlags(cmd, o)
	return cmd
}

func newCancelCmd(_ *rootOptions) *cobra.Command {
	o := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the active download",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, o, func(ctx context.Context, client *rpc.Client) error {
				return client.CancelDownloading(ctx)
			})
		},
	}
	addClientFlags(cmd, o)
	return cmd
}

func newDeleteCmd(_ *rootOptions) *cobra.Command {
	o := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete tile regions by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, o, func(ctx context.Context, client *rpc.Client) error {
				return client.DeleteTilesByID(ctx, args)
			})
		},
	}
	addClientFlags(cmd, o)
	return cmd
}

func newDeleteAllCmd(_ *rootOptions) *cobra.Command {
	o := &clientOptions{}
	var token string
	cmd := &cobra.Command{
		Use:   "delete-all",
		Short: "Delete every tile region and style pack",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, o, func(ctx context.Context, client *rpc.Client) error {
				return client.DeleteAllTilesAndStyles(ctx, token)
			})
		},
	}
	addClientFlags(cmd, o)
	cmd.Flags().StringVar(&token, "token", os.Getenv("OFFLINE_ACCESS_TOKEN"), "access token")
	return cmd
}

func newWatchCmd(_ *rootOptions) *cobra.Command {
	o := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "watch CHANNEL",
		Short: "Stream the events of a download channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, o, func(ctx context.Context, client *rpc.Client) error {
				sub, err := client.Subscribe(ctx, args[0])
				if err != nil {
					return err
				}
				return printEvents(cmd.OutOrStdout(), o.output, sub)
			})
		},
	}
	addClientFlags(cmd, o)
	return cmd
}

type eventSource interface {
	Recv() (events.Event, error)
}

// printEvents prints until the channel closes. A terminal error event is
// returned as an error after it is printed.
func printEvents(w io.Writer, format string, src eventSource) error {
	var last events.Event
	for {
		ev, err := src.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := printEvent(w, format, ev); err != nil {
			return err
		}
		last = ev
	}
	if last.Status == events.StatusError {
		return fmt.Errorf("download failed: %s", last.Message)
	}
	return nil
}
