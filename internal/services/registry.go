// Package services wires the daemon's subsystems into one registry so the
// entry points share a single construction path.
package services

import (
	"github.com/fyrsmithlabs/memoryd/internal/capture"
	"github.com/fyrsmithlabs/memoryd/internal/chunking"
	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/gitsync"
	"github.com/fyrsmithlabs/memoryd/internal/injection"
	"github.com/fyrsmithlabs/memoryd/internal/queue"
	"github.com/fyrsmithlabs/memoryd/internal/search"
	"github.com/fyrsmithlabs/memoryd/internal/security"
	"github.com/fyrsmithlabs/memoryd/internal/storage"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

// Registry provides access to all memoryd services.
type Registry interface {
	VectorStore() vectorstore.Store
	Embedder() *embeddings.Client
	Storage() *storage.Storage
	Scanner() *security.Scanner
	Chunker() *chunking.Chunker
	Searcher() *search.Searcher
	Injection() *injection.Builder
	Capture() *capture.Pipeline
	Queue() *queue.Queue
	Sync() *gitsync.Engine
}

// Options configures the registry with service instances. Sync may be nil
// when the engine is disabled.
type Options struct {
	VectorStore vectorstore.Store
	Embedder    *embeddings.Client
	Storage     *storage.Storage
	Scanner     *security.Scanner
	Chunker     *chunking.Chunker
	Searcher    *search.Searcher
	Injection   *injection.Builder
	Capture     *capture.Pipeline
	Queue       *queue.Queue
	Sync        *gitsync.Engine
}

type registry struct {
	opts Options
}

// NewRegistry creates a service registry.
func NewRegistry(opts Options) Registry {
	return &registry{opts: opts}
}

func (r *registry) VectorStore() vectorstore.Store { return r.opts.VectorStore }
func (r *registry) Embedder() *embeddings.Client   { return r.opts.Embedder }
func (r *registry) Storage() *storage.Storage      { return r.opts.Storage }
func (r *registry) Scanner() *security.Scanner     { return r.opts.Scanner }
func (r *registry) Chunker() *chunking.Chunker     { return r.opts.Chunker }
func (r *registry) Searcher() *search.Searcher     { return r.opts.Searcher }
func (r *registry) Injection() *injection.Builder  { return r.opts.Injection }
func (r *registry) Capture() *capture.Pipeline     { return r.opts.Capture }
func (r *registry) Queue() *queue.Queue            { return r.opts.Queue }
func (r *registry) Sync() *gitsync.Engine          { return r.opts.Sync }
