package cmds

import (
	"context"
	"net/http"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/huddle/pkg/relay"
)

type RelayCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = (*RelayCommand)(nil)

func NewRelayCommand() (*RelayCommand, error) {
	relaySection, err := relay.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build relay section")
	}
	redisSection, err := relay.NewRedisSection()
	if err != nil {
		return nil, errors.Wrap(err, "build redis section")
	}
	desc := cmds.NewCommandDescription(
		"relay",
		cmds.WithShort("Run the development fan-out relay"),
		cmds.WithLong("Serve /ws/{conversationId}: every frame is delivered to every connection of the conversation, the sender included."),
		cmds.WithSections(relaySection, redisSection),
	)
	return &RelayCommand{CommandDescription: desc}, nil
}

func (c *RelayCommand) Run(ctx context.Context, parsedLayers *values.Values) error {
	s := &relay.Settings{}
	if err := parsedLayers.DecodeSectionInto(relay.SectionSlug, s); err != nil {
		return errors.Wrap(err, "decode relay settings")
	}
	rs := &relay.RedisSettings{}
	if err := parsedLayers.DecodeSectionInto(relay.RedisSectionSlug, rs); err != nil {
		return errors.Wrap(err, "decode redis settings")
	}

	bus, err := relay.NewBus(ctx, *rs)
	if err != nil {
		return err
	}
	srv := relay.NewServer(bus, s.Config())
	server := &http.Server{Addr: s.Addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	ctx, cancel := signalContext(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down relay")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		srv.Close()
		if cerr := bus.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("bus close error")
		}
		return err
	})
	eg.Go(func() error {
		log.Info().Str("addr", s.Addr).Bool("redis", rs.Enabled).Msg("starting relay")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "relay listen")
		}
		cancel()
		return nil
	})
	return eg.Wait()
}
