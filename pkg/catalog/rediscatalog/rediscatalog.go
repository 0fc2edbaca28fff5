// Package rediscatalog stores catalog frames in Redis.
//
// Each frame is a msgpack blob under {prefix}:catalog:{dataset}:frame:{unix}
// and is indexed by a sorted set {prefix}:catalog:{dataset}:index scored by
// its Unix time in seconds. Fetch pages through the index so a long range is
// streamed rather than loaded whole.
package rediscatalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ethpandaops/gridstat/pkg/catalog"
	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/raster"
	r "github.com/ethpandaops/gridstat/pkg/redis"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

const defaultPageSize = 256

var (
	// ErrMissingFrame is returned when the index names a frame whose blob is gone
	ErrMissingFrame = errors.New("indexed frame is missing")
)

// record is the stored form of a frame
type record struct {
	Time  int64       `msgpack:"t"`
	Label string      `msgpack:"l"`
	Grid  raster.Grid `msgpack:"g"`
	Bands []string    `msgpack:"b"`
	Data  [][]float64 `msgpack:"d"`
}

// Catalog is a Redis-backed catalog
type Catalog struct {
	log      logrus.FieldLogger
	client   redis.UniversalClient
	cfg      *r.Config
	pageSize int64

	// decoded frames by key; nil when disabled
	cache *lru.Cache[string, *raster.Frame]
}

// Option configures a Catalog
type Option func(*Catalog)

// WithFrameCache keeps up to size decoded frames in process. Frames stored
// by other processes under an existing key are not seen until evicted.
func WithFrameCache(size int) Option {
	return func(c *Catalog) {
		if size <= 0 {
			return
		}

		cache, err := lru.New[string, *raster.Frame](size)
		if err != nil {
			c.log.WithError(err).Warn("Frame cache disabled")
			return
		}

		c.cache = cache
	}
}

// New creates a catalog on client. Keys are prefixed with cfg.Prefix.
func New(log logrus.FieldLogger, client redis.UniversalClient, cfg *r.Config, opts ...Option) *Catalog {
	c := &Catalog{
		log:      log.WithField("component", "redis_catalog"),
		client:   client,
		cfg:      cfg,
		pageSize: defaultPageSize,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name implements catalog.Catalog.
func (c *Catalog) Name() string { return "redis" }

func (c *Catalog) datasetsKey() string {
	return c.cfg.PrefixKey("catalog:datasets")
}

func (c *Catalog) indexKey(dataset string) string {
	return c.cfg.PrefixKey(fmt.Sprintf("catalog:%s:index", dataset))
}

func (c *Catalog) frameKey(dataset string, t time.Time) string {
	return c.cfg.PrefixKey(fmt.Sprintf("catalog:%s:frame:%d", dataset, t.Unix()))
}

// Put stores frames under dataset, replacing frames with the same time.
func (c *Catalog) Put(ctx context.Context, dataset string, frames ...*raster.Frame) error {
	if len(frames) == 0 {
		return nil
	}

	pipe := c.client.TxPipeline()
	pipe.SAdd(ctx, c.datasetsKey(), dataset)

	for _, f := range frames {
		if f.Empty() {
			continue
		}

		data := make([][]float64, f.BandCount())
		for i := range data {
			data[i] = f.Values(i)
		}

		blob, err := msgpack.Marshal(record{
			Time:  f.Time().Unix(),
			Label: f.Label(),
			Grid:  f.Grid(),
			Bands: f.Bands(),
			Data:  data,
		})
		if err != nil {
			return fmt.Errorf("failed to encode frame %s: %w", f.Label(), err)
		}

		key := c.frameKey(dataset, f.Time())
		pipe.Set(ctx, key, blob, 0)

		if c.cache != nil {
			c.cache.Remove(key)
		}

		pipe.ZAdd(ctx, c.indexKey(dataset), redis.Z{Score: float64(f.Time().Unix()), Member: key})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return failure.Collaborator("redis", fmt.Errorf("failed to store frames: %w", err))
	}

	c.log.WithFields(logrus.Fields{
		"dataset": dataset,
		"frames":  len(frames),
	}).Debug("Stored frames")

	return nil
}

// Datasets returns the ids of every stored dataset.
func (c *Catalog) Datasets(ctx context.Context) ([]string, error) {
	ids, err := c.client.SMembers(ctx, c.datasetsKey()).Result()
	if err != nil {
		return nil, failure.Collaborator("redis", err)
	}

	return ids, nil
}

// Count returns the number of frames stored for dataset.
func (c *Catalog) Count(ctx context.Context, dataset string) (int64, error) {
	n, err := c.client.ZCard(ctx, c.indexKey(dataset)).Result()
	if err != nil {
		return 0, failure.Collaborator("redis", err)
	}

	return n, nil
}

// Fetch implements catalog.Catalog.
func (c *Catalog) Fetch(ctx context.Context, q catalog.Query) (catalog.Stream, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	known, err := c.client.SIsMember(ctx, c.datasetsKey(), q.Dataset).Result()
	if err != nil {
		return nil, failure.Collaborator("redis", err)
	}

	if !known {
		return nil, fmt.Errorf("%w: %s", catalog.ErrUnknownDataset, q.Dataset)
	}

	return &stream{
		catalog: c,
		query:   q,
		min:     strconv.FormatInt(q.Start.Unix(), 10),
		max:     "(" + strconv.FormatInt(q.End.Unix(), 10),
	}, nil
}

type stream struct {
	catalog *Catalog
	query   catalog.Query
	min     string
	max     string

	offset int64
	buf    []*raster.Frame
	done   bool
}

func (s *stream) Next(ctx context.Context) (*raster.Frame, error) {
	for len(s.buf) == 0 {
		if s.done {
			return nil, io.EOF
		}

		if err := s.fill(ctx); err != nil {
			return nil, err
		}
	}

	f := s.buf[0]
	s.buf = s.buf[1:]

	return f, nil
}

// fill loads the next page of the index.
func (s *stream) fill(ctx context.Context) error {
	c := s.catalog

	keys, err := c.client.ZRangeByScore(ctx, c.indexKey(s.query.Dataset), &redis.ZRangeBy{
		Min:    s.min,
		Max:    s.max,
		Offset: s.offset,
		Count:  c.pageSize,
	}).Result()
	if err != nil {
		return failure.Collaborator("redis", fmt.Errorf("failed to read index: %w", err))
	}

	s.offset += int64(len(keys))
	if int64(len(keys)) < c.pageSize {
		s.done = true
	}

	if len(keys) == 0 {
		return nil
	}

	frames, err := c.frames(ctx, keys)
	if err != nil {
		return err
	}

	for _, f := range frames {
		shaped, inside, err := catalog.Shape(f, s.query)
		if err != nil {
			return err
		}

		if inside {
			s.buf = append(s.buf, shaped)
		}
	}

	return nil
}

// frames returns the frames stored under keys, in order, reading only the
// ones missing from the cache.
func (c *Catalog) frames(ctx context.Context, keys []string) ([]*raster.Frame, error) {
	out := make([]*raster.Frame, len(keys))

	var missing []int

	for i, key := range keys {
		if c.cache != nil {
			if f, ok := c.cache.Get(key); ok {
				out[i] = f
				continue
			}
		}

		missing = append(missing, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	fetch := make([]string, len(missing))
	for j, i := range missing {
		fetch[j] = keys[i]
	}

	blobs, err := c.client.MGet(ctx, fetch...).Result()
	if err != nil {
		return nil, failure.Collaborator("redis", fmt.Errorf("failed to read frames: %w", err))
	}

	for j, blob := range blobs {
		key := fetch[j]

		raw, ok := blob.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingFrame, key)
		}

		f, err := decode([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("frame %s: %w", key, err)
		}

		if c.cache != nil {
			c.cache.Add(key, f)
		}

		out[missing[j]] = f
	}

	return out, nil
}

func decode(blob []byte) (*raster.Frame, error) {
	var rec record
	if err := msgpack.Unmarshal(blob, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}

	return raster.NewFrame(time.Unix(rec.Time, 0), rec.Label, rec.Grid, rec.Bands, rec.Data)
}

func (s *stream) Close() error {
	s.done = true
	s.buf = nil

	return nil
}

var _ catalog.Catalog = (*Catalog)(nil)
