package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/getsentry/synthtrace/internal/fixture"
	"github.com/getsentry/synthtrace/internal/logutil"
	"github.com/getsentry/synthtrace/internal/perfetto"
	"github.com/getsentry/synthtrace/internal/storageprovider"
	"github.com/getsentry/synthtrace/internal/storageutil"
	"github.com/getsentry/synthtrace/internal/synth"
)

const usage = `usage:
  synthtrace list
  synthtrace build <scenario|script.json> [object-name]
  synthtrace decode <file|object-name>
  synthtrace objects [prefix]`

var (
	release string

	errUsage = errors.New("invalid arguments")
)

type environment struct {
	config ServiceConfig

	storage storageutil.ObjectHandler
	stdout  io.Writer
	closers []func() error
}

func newEnvironment(ctx context.Context, cfg ServiceConfig) (*environment, error) {
	e := environment{config: cfg, stdout: os.Stdout}
	switch {
	case cfg.GCSBucket != "":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		e.storage = &storageprovider.Gcs{BucketHandle: client.Bucket(cfg.GCSBucket)}
		e.closers = append(e.closers, client.Close)
	case cfg.Bucket != "":
		bucket, err := blob.OpenBucket(ctx, cfg.Bucket)
		if err != nil {
			return nil, err
		}
		e.storage = &storageprovider.Blob{Bucket: bucket}
		e.closers = append(e.closers, bucket.Close)
	}
	return &e, nil
}

func (e *environment) shutdown() {
	for _, c := range e.closers {
		if err := c(); err != nil {
			sentry.CaptureException(err)
		}
	}
	sentry.Flush(5 * time.Second)
}

func loadScript(arg string) (fixture.Script, error) {
	if s, ok := fixture.Lookup(arg); ok {
		return s, nil
	}
	if !strings.HasSuffix(arg, ".json") {
		return fixture.Script{}, fmt.Errorf("unknown scenario %q", arg)
	}
	f, err := os.Open(arg)
	if err != nil {
		return fixture.Script{}, err
	}
	defer f.Close()
	return fixture.Load(f)
}

// build runs the script and serializes the result. Nothing is returned
// unless both steps succeed.
func (e *environment) build(ctx context.Context, script fixture.Script) ([]byte, error) {
	var opts []synth.Option
	if e.config.StrictPacketOrder {
		opts = append(opts, synth.WithStrictPacketOrder())
	}

	s := sentry.StartSpan(ctx, "fixture.run")
	s.Description = script.Name
	trace, err := fixture.Run(script, opts...)
	s.Finish()
	if err != nil {
		return nil, err
	}
	stats := trace.Stats()
	log.Debug().
		Str("scenario", script.Name).
		Int("packets", stats.Packets).
		Int("records", stats.FtraceRecords).
		Int("open_async_spans", stats.OpenAsyncSpans).
		Msg("trace built")

	s = sentry.StartSpan(ctx, "perfetto.marshal")
	defer s.Finish()
	return perfetto.NewEncoder(perfetto.WithMaxLength(e.config.MaxLength)).Marshal(trace)
}

// write stores the trace and returns where it went.
func (e *environment) write(ctx context.Context, data []byte, objectName string) (string, error) {
	if e.storage == nil {
		if _, err := e.stdout.Write(data); err != nil {
			return "", err
		}
		return "stdout", nil
	}
	if objectName == "" {
		objectName = uuid.New().String() + ".pftrace"
		if e.config.Compress {
			objectName += ".lz4"
		}
	}
	s := sentry.StartSpan(ctx, "storage.write")
	defer s.Finish()
	var err error
	if e.config.Compress {
		err = storageutil.CompressedWrite(ctx, e.storage, objectName, data)
	} else {
		err = storageutil.Write(ctx, e.storage, objectName, data)
	}
	if err != nil {
		return "", err
	}
	return objectName, nil
}

func (e *environment) read(ctx context.Context, name string) ([]byte, error) {
	if e.storage == nil {
		return os.ReadFile(name)
	}
	return storageutil.Read(ctx, e.storage, name, strings.HasSuffix(name, ".lz4"))
}

func (e *environment) decode(ctx context.Context, name string) error {
	data, err := e.read(ctx, name)
	if err != nil {
		return err
	}
	packets, err := perfetto.DecodePackets(data)
	if err != nil {
		return err
	}
	s := sentry.StartSpan(ctx, "json.marshal")
	defer s.Finish()
	b, err := json.MarshalIndent(packets, "", "  ")
	if err != nil {
		return err
	}
	_, err = e.stdout.Write(append(b, '\n'))
	return err
}

func (e *environment) objects(ctx context.Context, prefix string) error {
	l, ok := e.storage.(storageutil.Lister)
	if !ok {
		return fmt.Errorf("%w: objects needs a bucket", errUsage)
	}
	names, err := l.List(ctx, prefix)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, n := range names {
		buf.WriteString(n)
		buf.WriteByte('\n')
	}
	_, err = e.stdout.Write(buf.Bytes())
	return err
}

func (e *environment) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "list":
		_, err := io.WriteString(e.stdout, strings.Join(fixture.Names(), "\n")+"\n")
		return err
	case "build":
		if len(args) < 2 || len(args) > 3 {
			return errUsage
		}
		script, err := loadScript(args[1])
		if err != nil {
			return err
		}
		data, err := e.build(ctx, script)
		if err != nil {
			return err
		}
		var objectName string
		if len(args) == 3 {
			objectName = args[2]
		}
		dest, err := e.write(ctx, data, objectName)
		if err != nil {
			return err
		}
		log.Info().Str("scenario", script.Name).Int("size", len(data)).Str("destination", dest).Msg("trace written")
		return nil
	case "decode":
		if len(args) != 2 {
			return errUsage
		}
		return e.decode(ctx, args[1])
	case "objects":
		var prefix string
		if len(args) > 1 {
			prefix = args[1]
		}
		return e.objects(ctx, prefix)
	default:
		return errUsage
	}
}

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error reading configuration")
	}
	logutil.ConfigureLogger(cfg.LogLevel)

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		EnableTracing:    true,
		Environment:      cfg.Environment,
		Release:          release,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	ctx := context.Background()
	env, err := newEnvironment(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("error setting up environment")
	}

	tx := sentry.StartSpan(ctx, "synthtrace", sentry.TransactionName(strings.Join(os.Args[1:], " ")))
	err = env.run(tx.Context(), os.Args[1:])
	tx.Finish()
	if err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, usage)
		} else {
			sentry.CaptureException(err)
		}
		log.Error().Err(err).Msg("synthtrace failed")
		env.shutdown()
		os.Exit(1)
	}
	env.shutdown()
}
