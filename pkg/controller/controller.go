// Package controller ties the profile directory and the reflow engine
// together. Importing and deleting profiles write flash, so they are never
// allowed while a reflow or bake is reading it, and the other way round.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"sync"

	"github.com/itohio/goreflow/pkg/config"
	"github.com/itohio/goreflow/pkg/directory"
	"github.com/itohio/goreflow/pkg/flash"
	"github.com/itohio/goreflow/pkg/prefs"
	"github.com/itohio/goreflow/pkg/profile"
	"github.com/itohio/goreflow/pkg/reflow"
)

// ErrBusy is returned when an operation is refused because another is active.
var ErrBusy = errors.New("controller: busy")

// State is what the controller is doing.
type State uint8

const (
	StateIdle    State = iota
	StateStorage       // Importing, deleting or listing profiles
	StateReflow
	StateBake
)

var stateNames = [...]string{"idle", "storage", "reflow", "bake"}

func (s State) String() string {
	if int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", uint8(s))
	}
	return stateNames[s]
}

// Controller serialises access to the profile store.
type Controller struct {
	dir    *directory.Directory
	engine *reflow.Engine

	mu    sync.Mutex
	state State
}

// New creates a controller over an existing directory and engine.
func New(dir *directory.Directory, engine *reflow.Engine) *Controller {
	return &Controller{dir: dir, engine: engine}
}

// Open builds the flash store, loads the preferences kept in its reserved
// area and creates the directory and engine.
func Open(cfg *config.Config, dev flash.Device, outputs reflow.Outputs, thermo reflow.Thermometer, display reflow.Display, clock reflow.Clock) (*Controller, error) {
	store, err := flash.NewStore(dev, flash.LayoutFromConfig(cfg.Flash))
	if err != nil {
		return nil, fmt.Errorf("failed to open flash: %w", err)
	}

	ps, err := prefs.NewFlashStore(store, cfg.Flash.PrefsSlots, cfg.Flash.MaxProfiles)
	if err != nil {
		return nil, err
	}
	p, err := ps.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load prefs: %w", err)
	}

	dir, err := directory.New(profile.NewCodec(store), p, ps)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded %d profiles", dir.Count())

	return New(dir, reflow.New(cfg, outputs, thermo, display, clock)), nil
}

// Directory returns the profile directory for read-only queries.
func (c *Controller) Directory() *directory.Directory {
	return c.dir
}

// State returns the current activity.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether an import or a run is in progress.
func (c *Controller) Busy() bool {
	return c.State() != StateIdle
}

func (c *Controller) acquire(s State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return fmt.Errorf("%w: %s in progress", ErrBusy, c.state)
	}
	if s == StateReflow || s == StateBake {
		// Any abort from here on belongs to this run
		c.engine.ClearAbort()
	}
	c.state = s
	return nil
}

func (c *Controller) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
}

// Import loads every profile file found under root.
func (c *Controller) Import(fsys fs.FS, root string) (directory.Report, error) {
	if err := c.acquire(StateStorage); err != nil {
		return directory.Report{}, err
	}
	defer c.release()

	rep, err := c.dir.LoadFromFS(fsys, root)
	if err != nil {
		return rep, err
	}
	log.Printf("Imported %d profiles, skipped %d files, %d failed", len(rep.Imported), len(rep.Skipped), len(rep.Failed))
	return rep, nil
}

// ImportFile loads a single profile from r.
func (c *Controller) ImportFile(source string, r io.Reader) (prefs.Profile, error) {
	if err := c.acquire(StateStorage); err != nil {
		return prefs.Profile{}, err
	}
	defer c.release()
	return c.dir.Import(source, r)
}

// Delete removes the profile called name.
func (c *Controller) Delete(name string) error {
	if err := c.acquire(StateStorage); err != nil {
		return err
	}
	defer c.release()
	return c.dir.DeleteByName(name)
}

// FactoryReset erases every profile.
func (c *Controller) FactoryReset() error {
	if err := c.acquire(StateStorage); err != nil {
		return err
	}
	defer c.release()
	return c.dir.FactoryReset()
}

// Dump writes a listing of the profile called name.
func (c *Controller) Dump(name string, w io.Writer) error {
	if err := c.acquire(StateStorage); err != nil {
		return err
	}
	defer c.release()

	i, ok := c.dir.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", directory.ErrNotFound, name)
	}
	return c.dir.Dump(i, w)
}

// Reflow runs the stored profile called name.
func (c *Controller) Reflow(ctx context.Context, name string) (reflow.Result, error) {
	if err := c.acquire(StateReflow); err != nil {
		return reflow.Result{}, err
	}
	defer c.release()

	i, ok := c.dir.Lookup(name)
	if !ok {
		return reflow.Result{}, fmt.Errorf("%w: %q", directory.ErrNotFound, name)
	}
	p, err := c.dir.Get(i)
	if err != nil {
		return reflow.Result{}, err
	}
	cur, err := c.dir.Open(i)
	if err != nil {
		return reflow.Result{}, fmt.Errorf("failed to open profile %q: %w", name, err)
	}
	log.Printf("Running profile %q from block %d", p.Name, cur.Start())
	return c.engine.Run(ctx, p.Name, cur, p.PeakTemperature)
}

// Bake runs the configured bake.
func (c *Controller) Bake(ctx context.Context) (reflow.Result, error) {
	if err := c.acquire(StateBake); err != nil {
		return reflow.Result{}, err
	}
	defer c.release()
	return c.engine.Bake(ctx)
}

// Abort stops a running reflow or bake. It does nothing otherwise.
func (c *Controller) Abort() {
	switch c.State() {
	case StateReflow, StateBake:
		log.Printf("Abort requested")
		c.engine.Abort()
	}
}
