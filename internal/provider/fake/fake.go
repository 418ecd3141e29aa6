// Package fake holds in-memory providers with synthetic pagination and
// failure injection, used by the lifecycle tests.
package fake

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/campus-live/backend/internal/provider"
	"github.com/campus-live/backend/pkg/storage"
)

// ErrConflict mimics the provider rejecting a duplicate id.
var ErrConflict = errors.New("fake: resource already exists")

// failures is a per-operation error table.
type failures struct {
	errs map[string]error
}

// FailOn makes every later call of op return err. A nil err clears it.
func (f *failures) FailOn(op string, err error) {
	if f.errs == nil {
		f.errs = make(map[string]error)
	}
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

func (f *failures) fail(op string) error {
	return f.errs[op]
}

func page[T any](items []T, token string, size int) ([]T, string, error) {
	start := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 || n > len(items) {
			return nil, "", fmt.Errorf("fake: bad token %q", token)
		}
		start = n
	}
	if size <= 0 {
		size = len(items)
	}
	end := min(start+size, len(items))
	next := ""
	if end < len(items) {
		next = strconv.Itoa(end)
	}
	return slices.Clone(items[start:end]), next, nil
}

type inputRecord struct {
	input        provider.Input
	detachChecks int // DescribeInput calls still reporting attached after the channel went away
}

// Encoder is an in-memory provider.Encoder.
type Encoder struct {
	failures
	mu sync.Mutex

	// PageSize bounds listing pages; 0 returns everything at once.
	PageSize int
	// DetachAfter is how many DescribeInput calls keep reporting an input
	// attached once its channel is deleted. Negative never detaches.
	DetachAfter int

	seq      int
	groups   []provider.SecurityGroup
	inputs   map[string]*inputRecord
	channels []provider.Channel
	calls    []string
}

// NewEncoder returns an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{inputs: make(map[string]*inputRecord)}
}

func (e *Encoder) nextID(prefix string) string {
	e.seq++
	return fmt.Sprintf("%s-%d", prefix, e.seq)
}

func (e *Encoder) record(op string) error {
	e.calls = append(e.calls, op)
	return e.fail(op)
}

// Calls returns the operations invoked so far.
func (e *Encoder) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.calls)
}

func (e *Encoder) ListSecurityGroups(_ context.Context, token string) (provider.SecurityGroupPage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("ListSecurityGroups"); err != nil {
		return provider.SecurityGroupPage{}, err
	}
	groups, next, err := page(e.groups, token, e.PageSize)
	return provider.SecurityGroupPage{Groups: groups, NextToken: next}, err
}

func (e *Encoder) CreateSecurityGroup(_ context.Context, tags map[string]string) (provider.SecurityGroup, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("CreateSecurityGroup"); err != nil {
		return provider.SecurityGroup{}, err
	}
	g := provider.SecurityGroup{ID: e.nextID("sg"), Tags: maps.Clone(tags)}
	e.groups = append(e.groups, g)
	return g, nil
}

// AddSecurityGroup seeds an existing group.
func (e *Encoder) AddSecurityGroup(g provider.SecurityGroup) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.groups = append(e.groups, g)
}

// SecurityGroupCount returns how many groups exist.
func (e *Encoder) SecurityGroupCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.groups)
}

func (e *Encoder) CreateInput(_ context.Context, req provider.CreateInputRequest) (provider.Input, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("CreateInput"); err != nil {
		return provider.Input{}, err
	}
	in := provider.Input{
		ID:        e.nextID("in"),
		Name:      req.Name,
		Endpoints: []string{"rtmp://fake-ingest:1935/" + req.Name + "/primary"},
		State:     provider.InputDetached,
	}
	e.inputs[in.ID] = &inputRecord{input: in}
	return in, nil
}

func (e *Encoder) DescribeInput(_ context.Context, id string) (provider.Input, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("DescribeInput"); err != nil {
		return provider.Input{}, err
	}
	rec, ok := e.inputs[id]
	if !ok {
		return provider.Input{}, provider.ErrNotFound
	}
	if rec.input.State == provider.InputAttached && len(rec.input.AttachedChannels) == 0 {
		if rec.detachChecks == 0 {
			rec.input.State = provider.InputDetached
		} else if rec.detachChecks > 0 {
			rec.detachChecks--
		}
	}
	out := rec.input
	out.AttachedChannels = slices.Clone(rec.input.AttachedChannels)
	return out, nil
}

func (e *Encoder) DeleteInput(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("DeleteInput"); err != nil {
		return err
	}
	rec, ok := e.inputs[id]
	if !ok {
		return provider.ErrNotFound
	}
	if rec.input.State == provider.InputAttached {
		return fmt.Errorf("fake: input %s is still attached", id)
	}
	delete(e.inputs, id)
	return nil
}

// Input returns a stored input.
func (e *Encoder) Input(id string) (provider.Input, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.inputs[id]
	if !ok {
		return provider.Input{}, false
	}
	return rec.input, true
}

// InputCount returns how many inputs exist.
func (e *Encoder) InputCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inputs)
}

func (e *Encoder) CreateChannel(_ context.Context, req provider.CreateChannelRequest) (provider.Channel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("CreateChannel"); err != nil {
		return provider.Channel{}, err
	}
	rec, ok := e.inputs[req.InputID]
	if !ok {
		return provider.Channel{}, fmt.Errorf("fake: input %s: %w", req.InputID, provider.ErrNotFound)
	}
	ch := provider.Channel{ID: e.nextID("ch"), Name: req.Name, State: provider.ChannelIdle, InputIDs: []string{req.InputID}}
	rec.input.State = provider.InputAttached
	rec.input.AttachedChannels = append(rec.input.AttachedChannels, ch.ID)
	e.channels = append(e.channels, ch)
	return ch, nil
}

// AddChannel seeds a channel, e.g. one left behind by another deployment.
func (e *Encoder) AddChannel(ch provider.Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, inputID := range ch.InputIDs {
		rec, ok := e.inputs[inputID]
		if !ok {
			rec = &inputRecord{input: provider.Input{ID: inputID}}
			e.inputs[inputID] = rec
		}
		rec.input.State = provider.InputAttached
		rec.input.AttachedChannels = append(rec.input.AttachedChannels, ch.ID)
	}
	e.channels = append(e.channels, ch)
}

func (e *Encoder) channelIndex(id string) int {
	return slices.IndexFunc(e.channels, func(c provider.Channel) bool { return c.ID == id })
}

func (e *Encoder) setState(op, id string, state provider.ChannelState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record(op); err != nil {
		return err
	}
	i := e.channelIndex(id)
	if i < 0 {
		return provider.ErrNotFound
	}
	e.channels[i].State = state
	return nil
}

func (e *Encoder) StartChannel(_ context.Context, id string) error {
	return e.setState("StartChannel", id, provider.ChannelRunning)
}

func (e *Encoder) StopChannel(_ context.Context, id string) error {
	return e.setState("StopChannel", id, provider.ChannelIdle)
}

// SetChannelState forces the reported state of a channel.
func (e *Encoder) SetChannelState(id string, state provider.ChannelState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := e.channelIndex(id); i >= 0 {
		e.channels[i].State = state
	}
}

func (e *Encoder) DeleteChannel(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("DeleteChannel"); err != nil {
		return err
	}
	i := e.channelIndex(id)
	if i < 0 {
		return provider.ErrNotFound
	}
	for _, inputID := range e.channels[i].InputIDs {
		rec, ok := e.inputs[inputID]
		if !ok {
			continue
		}
		rec.input.AttachedChannels = slices.DeleteFunc(rec.input.AttachedChannels, func(c string) bool { return c == id })
		if len(rec.input.AttachedChannels) == 0 {
			rec.detachChecks = e.DetachAfter
		}
	}
	e.channels = slices.Delete(e.channels, i, i+1)
	return nil
}

func (e *Encoder) ListChannels(_ context.Context, token string) (provider.ChannelPage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("ListChannels"); err != nil {
		return provider.ChannelPage{}, err
	}
	channels, next, err := page(e.channels, token, e.PageSize)
	return provider.ChannelPage{Channels: channels, NextToken: next}, err
}

// Channel returns a stored channel.
func (e *Encoder) Channel(id string) (provider.Channel, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := e.channelIndex(id); i >= 0 {
		return e.channels[i], true
	}
	return provider.Channel{}, false
}

// ChannelCount returns how many channels exist.
func (e *Encoder) ChannelCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.channels)
}

// Packager is an in-memory provider.Packager.
type Packager struct {
	failures
	mu sync.Mutex

	// FailAfterCreate lists harvest job ids whose submission is recorded
	// by the provider but reported back as an error.
	FailAfterCreate map[string]bool

	channels    map[string]provider.PackagingChannel
	endpoints   map[string]string // endpoint id -> channel id
	jobs        map[string]provider.HarvestJob
	submissions []provider.HarvestRequest
}

// NewPackager returns an empty packager.
func NewPackager() *Packager {
	return &Packager{
		FailAfterCreate: make(map[string]bool),
		channels:        make(map[string]provider.PackagingChannel),
		endpoints:       make(map[string]string),
		jobs:            make(map[string]provider.HarvestJob),
	}
}

func (p *Packager) CreateChannel(_ context.Context, id string, _ map[string]string) (provider.PackagingChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("CreateChannel"); err != nil {
		return provider.PackagingChannel{}, err
	}
	if _, ok := p.channels[id]; ok {
		return provider.PackagingChannel{}, ErrConflict
	}
	ch := provider.PackagingChannel{
		ID: id,
		Ingest: []provider.IngestEndpoint{{
			ID:       id + "-ingest",
			URL:      "https://fake-ingest/" + id + "/channel",
			Username: "ingest-" + id,
			Password: "secret-" + id,
		}},
	}
	p.channels[id] = ch
	return ch, nil
}

func (p *Packager) CreateEndpoint(_ context.Context, channelID string, _ map[string]string) (provider.PackagingEndpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("CreateEndpoint"); err != nil {
		return provider.PackagingEndpoint{}, err
	}
	if _, ok := p.channels[channelID]; !ok {
		return provider.PackagingEndpoint{}, provider.ErrNotFound
	}
	id := channelID + "_cmaf"
	p.endpoints[id] = channelID
	return provider.PackagingEndpoint{ID: id, URL: "https://fake-origin/out/v1/" + id + "/index.m3u8"}, nil
}

func (p *Packager) DeleteChannel(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("DeleteChannel"); err != nil {
		return err
	}
	if _, ok := p.channels[id]; !ok {
		return provider.ErrNotFound
	}
	for ep, ch := range p.endpoints {
		if ch == id {
			delete(p.endpoints, ep)
		}
	}
	delete(p.channels, id)
	return nil
}

// HasChannel reports whether a packaging channel exists.
func (p *Packager) HasChannel(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.channels[id]
	return ok
}

// ChannelCount returns how many packaging channels exist.
func (p *Packager) ChannelCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.channels)
}

func (p *Packager) CreateHarvestJob(_ context.Context, req provider.HarvestRequest) (provider.HarvestJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("CreateHarvestJob"); err != nil {
		return provider.HarvestJob{}, err
	}
	if _, ok := p.jobs[req.ID]; ok {
		return provider.HarvestJob{}, ErrConflict
	}
	if _, ok := p.endpoints[req.EndpointID]; !ok {
		return provider.HarvestJob{}, fmt.Errorf("fake: endpoint %s: %w", req.EndpointID, provider.ErrNotFound)
	}
	job := provider.HarvestJob{ID: req.ID, EndpointID: req.EndpointID, ManifestKey: req.ManifestKey, Status: provider.HarvestInProgress}
	p.jobs[req.ID] = job
	p.submissions = append(p.submissions, req)
	if p.FailAfterCreate[req.ID] {
		return provider.HarvestJob{}, errors.New("fake: connection reset after submit")
	}
	return job, nil
}

func (p *Packager) DescribeHarvestJob(_ context.Context, id string) (provider.HarvestJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("DescribeHarvestJob"); err != nil {
		return provider.HarvestJob{}, err
	}
	job, ok := p.jobs[id]
	if !ok {
		return provider.HarvestJob{}, provider.ErrNotFound
	}
	return job, nil
}

// FinishJob moves a harvest job to a final status.
func (p *Packager) FinishJob(id string, status provider.HarvestJobStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if job, ok := p.jobs[id]; ok {
		job.Status = status
		p.jobs[id] = job
	}
}

// Submissions returns every accepted harvest request in order.
func (p *Packager) Submissions() []provider.HarvestRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.submissions)
}

// Objects is an in-memory provider.ObjectStore.
type Objects struct {
	failures
	mu sync.Mutex

	// PageSize bounds listing pages; 0 returns everything at once.
	PageSize int

	keys      map[string]struct{}
	listCalls int
}

// NewObjects returns an empty bucket.
func NewObjects() *Objects {
	return &Objects{keys: make(map[string]struct{})}
}

// Put stores keys.
func (o *Objects) Put(keys ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, k := range keys {
		o.keys[k] = struct{}{}
	}
}

// Keys returns the sorted keys under prefix.
func (o *Objects) Keys(prefix string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sorted(prefix)
}

// ListCalls returns how many ListObjects calls were made.
func (o *Objects) ListCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.listCalls
}

func (o *Objects) sorted(prefix string) []string {
	var out []string
	for k := range o.keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// ListObjects pages by key offset. Deleting already listed keys does not
// invalidate later tokens because the token is the last key returned.
func (o *Objects) ListObjects(_ context.Context, prefix, token string) (storage.ObjectPage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listCalls++
	if err := o.fail("ListObjects"); err != nil {
		return storage.ObjectPage{}, err
	}
	keys := o.sorted(prefix)
	start := 0
	if token != "" {
		start, _ = slices.BinarySearch(keys, token)
		if start < len(keys) && keys[start] == token {
			start++
		}
	}
	size := o.PageSize
	if size <= 0 {
		size = len(keys)
	}
	end := min(start+size, len(keys))
	p := storage.ObjectPage{Keys: slices.Clone(keys[start:end])}
	if end < len(keys) {
		p.Truncated = true
		p.NextToken = keys[end-1]
	}
	return p, nil
}

func (o *Objects) DeleteObjects(_ context.Context, keys []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.fail("DeleteObjects"); err != nil {
		return err
	}
	for _, k := range keys {
		delete(o.keys, k)
	}
	return nil
}

var (
	_ provider.Encoder     = (*Encoder)(nil)
	_ provider.Packager    = (*Packager)(nil)
	_ provider.ObjectStore = (*Objects)(nil)
)
