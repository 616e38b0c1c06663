package river

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/mashable/elasticsearch-river-mongodb/document"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func ts(t uint32) oplog.Position {
	return oplog.FromTimestamp(bson.Timestamp{T: t, I: 1})
}

func entry(at uint32, code, ns string, o *document.Document) *oplog.Entry {
	return &oplog.Entry{
		Position:  ts(at),
		Code:      code,
		HasCode:   true,
		Namespace: ns,
		Object:    o,
	}
}

func doc(fields ...any) *document.Document {
	out := make([]document.Field, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		out = append(out, document.F(fields[i].(string), fields[i+1]))
	}
	return document.New(out...)
}

// fakeChangeLog is an in-memory, appendable change log
type fakeChangeLog struct {
	mu       sync.Mutex
	entries  []*oplog.Entry
	openErrs []error
	opens    int
	closes   int
	tailErr  error
}

func (f *fakeChangeLog) append(entries ...*oplog.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entries...)
}

func (f *fakeChangeLog) setApplied(pos oplog.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.Position == pos {
			e.Applied = nil
		}
	}
}

func (f *fakeChangeLog) counts() (opens, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes
}

func (f *fakeChangeLog) Tail(ctx context.Context) (oplog.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tailErr != nil {
		return oplog.Position{}, f.tailErr
	}
	if len(f.entries) == 0 {
		return oplog.Position{}, nil
	}
	return f.entries[len(f.entries)-1].Position, nil
}

func (f *fakeChangeLog) Open(ctx context.Context, from oplog.Position) (Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		return nil, err
	}
	f.opens++

	var out []*oplog.Entry
	for _, e := range f.entries {
		if from.IsZero() || e.Position.Compare(from) >= 0 {
			out = append(out, e)
		}
	}
	return &fakeCursor{log: f, entries: out}, nil
}

type fakeCursor struct {
	log     *fakeChangeLog
	entries []*oplog.Entry
	next    int
}

func (c *fakeCursor) Next(ctx context.Context) (*oplog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.next >= len(c.entries) {
		return nil, io.EOF
	}
	c.log.mu.Lock()
	e := *c.entries[c.next]
	c.log.mu.Unlock()
	c.next++
	return &e, nil
}

func (c *fakeCursor) Close(ctx context.Context) error {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	c.log.closes++
	return nil
}

// fakeSink records events
type fakeSink struct {
	mu     sync.Mutex
	events []ChangeEvent
	err    error
}

func (s *fakeSink) Put(ctx context.Context, event ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSink) snapshot() []ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChangeEvent, len(s.events))
	copy(out, s.events)
	return out
}

// fakeSource is an in-memory source database
type fakeSource struct {
	mu         sync.Mutex
	docs       map[string][]*document.Document
	names      []string
	indexes    map[string][]IndexSpec
	indexCalls map[string]int
	findErr    error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		docs:       make(map[string][]*document.Document),
		indexes:    make(map[string][]IndexSpec),
		indexCalls: make(map[string]int),
	}
}

func (s *fakeSource) FindOne(ctx context.Context, collection string, selector *document.Document) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, d := range s.docs[collection] {
		if d.Matches(selector) {
			return d, nil
		}
	}
	return nil, nil
}

func (s *fakeSource) CollectionNames(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out, nil
}

func (s *fakeSource) Indexes(ctx context.Context, namespace string) ([]IndexSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexCalls[namespace]++
	return s.indexes[namespace], nil
}

// fakeOverflow serves overflow fragments
type fakeOverflow struct {
	fragments map[bson.ObjectID][]*oplog.Fragment
	calls     int
}

func (o *fakeOverflow) add(ref bson.ObjectID, seq int64, ops ...*oplog.Entry) {
	if o.fragments == nil {
		o.fragments = make(map[bson.ObjectID][]*oplog.Fragment)
	}
	o.fragments[ref] = append(o.fragments[ref], &oplog.Fragment{Ref: ref, Seq: seq, Entry: &oplog.Entry{Ops: ops}})
	sort.Slice(o.fragments[ref], func(i, j int) bool { return o.fragments[ref][i].Seq < o.fragments[ref][j].Seq })
}

func (o *fakeOverflow) NextFragment(ctx context.Context, ref bson.ObjectID, after int64, parent oplog.Position) (*oplog.Fragment, error) {
	o.calls++
	for _, f := range o.fragments[ref] {
		if f.Seq > after {
			for _, op := range f.Entry.Ops {
				op.Position = parent
			}
			return f, nil
		}
	}
	return nil, nil
}

// fakeAttachments serves attachments by id
type fakeAttachments struct {
	files map[string]*document.Attachment
}

func (a *fakeAttachments) Find(ctx context.Context, bucket string, id document.Value) (*document.Attachment, error) {
	return a.files[bucket+"/"+id.String()], nil
}

// fakeImporter records import requests
type fakeImporter struct {
	mu    sync.Mutex
	calls []string
}

func (i *fakeImporter) Import(ctx context.Context, collection string, at oplog.Position) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = append(i.calls, collection)
	return nil
}

// fakeStatusStore records the last status
type fakeStatusStore struct {
	mu     sync.Mutex
	status Status
	writes []Status
}

func (s *fakeStatusStore) SetStatus(ctx context.Context, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.writes = append(s.writes, status)
	return nil
}

func (s *fakeStatusStore) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}
