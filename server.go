// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package stomp provides a text-frame publish/subscribe broker speaking STOMP 1.2.
package stomp

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mochi-mqtt/stomp/frames"
	"github.com/mochi-mqtt/stomp/listeners"
	"github.com/mochi-mqtt/stomp/system"
	"github.com/mochi-mqtt/stomp/users"
)

const (
	Version                      = "1.0.0" // the current server version.
	defaultSysInfoInterval int64 = 1       // the interval between system info refreshes

	ModeTPC     = "tpc"     // each connection processes its frames on its own goroutine
	ModeReactor = "reactor" // frames are processed by a shared worker pool
)

var (
	ErrListenerIDExists   = errors.New("listener id already exists")                   // a listener with the same id already exists
	ErrConnectionClosed   = errors.New("connection not open")                          // connection is closed
	ErrServerBusy         = errors.New("server is at its maximum number of clients")   // the client limit was reached
	ErrServerShuttingDown = errors.New("server is shutting down")                      // the server is closing connections
	ErrClientTerminated   = errors.New("connection terminated by protocol")            // the protocol asked for the connection to close
	ErrInvalidMode        = errors.New("invalid server mode, expected tpc or reactor") // the mode option is unknown
)

// Capabilities indicates the capabilities and features provided by the server.
type Capabilities struct {
	MaximumClients             int64           `yaml:"maximum_clients" json:"maximum_clients"`                             // maximum number of connected clients
	MaximumClientWritesPending int32           `yaml:"maximum_client_writes_pending" json:"maximum_client_writes_pending"` // maximum number of pending frame writes for a client
	MaximumFrameSize           uint32          `yaml:"maximum_frame_size" json:"maximum_frame_size"`                       // maximum inbound frame size in bytes
	ProtocolVersion            string          `yaml:"protocol_version" json:"protocol_version"`                           // the negotiated protocol version
	Compatibilities            Compatibilities `yaml:"compatibilities" json:"compatibilities"`                             // behaviour switches
}

// NewDefaultServerCapabilities defines the default features and capabilities provided by the server.
func NewDefaultServerCapabilities() *Capabilities {
	return &Capabilities{
		MaximumClients:             math.MaxInt64,
		MaximumClientWritesPending: 1024 * 8,
		MaximumFrameSize:           1024 * 64,
		ProtocolVersion:            ProtocolVersion,
	}
}

// Compatibilities provides flags for changing long standing broker behaviour.
type Compatibilities struct {
	StrictMessageIDs  bool `yaml:"strict_message_ids" json:"strict_message_ids"` // only MESSAGE frames advance the message id counter
	RecoverableErrors bool `yaml:"recoverable_errors" json:"recoverable_errors"` // malformed, invalid id and not subscribed errors keep the connection open
}

// HookLoadConfig contains the hook and configuration as loaded from a configuration (usually file).
type HookLoadConfig struct {
	Hook   Hook
	Config any
}

// UserStoreConfig selects the store the user directory writes through to.
type UserStoreConfig struct {
	Store  users.Store
	Config any
}

// Options contains configurable options for the server.
type Options struct {
	// Listeners specifies any listeners which should be dynamically added on serve. Used when setting listeners by config.
	Listeners []listeners.Config `yaml:"listeners" json:"listeners"`

	// Hooks specifies any hooks which should be dynamically added on serve. Used when setting hooks by config.
	Hooks []HookLoadConfig `yaml:"-" json:"-"`

	// Users is the user directory. A new empty ledger is used if nil.
	Users *users.Ledger `yaml:"-" json:"-"`

	// UserStore is attached to the user directory on serve, if set.
	UserStore *UserStoreConfig `yaml:"-" json:"-"`

	// Capabilities defines the server features and behaviour.
	Capabilities *Capabilities `yaml:"capabilities" json:"capabilities"`

	// Mode is either tpc (the default) or reactor.
	Mode string `yaml:"mode" json:"mode"`

	// ReactorWorkers is the number of worker columns in reactor mode, runtime.NumCPU() if 0.
	ReactorWorkers int `yaml:"reactor_workers" json:"reactor_workers"`

	// ReactorQueueSize is the number of frames each reactor worker may queue.
	ReactorQueueSize int `yaml:"reactor_queue_size" json:"reactor_queue_size"`

	// ClientNetWriteBufferSize specifies the size of the client *bufio.Writer write buffer.
	ClientNetWriteBufferSize int `yaml:"client_net_write_buffer_size" json:"client_net_write_buffer_size"`

	// ClientNetReadBufferSize specifies the initial size of the client frame read buffer.
	ClientNetReadBufferSize int `yaml:"client_net_read_buffer_size" json:"client_net_read_buffer_size"`

	// Logger specifies a custom configured implementation of log/slog to override
	// the servers default logger configuration.
	Logger *slog.Logger `yaml:"-" json:"-"`

	// SysInfoInterval specifies the interval between system info refreshes in seconds.
	SysInfoInterval int64 `yaml:"sys_info_interval" json:"sys_info_interval"`
}

// Server is a STOMP broker server. It should be created with stomp.New()
// in order to ensure all the internal fields are correctly populated.
type Server struct {
	Options     *Options             // configurable server options
	Listeners   *listeners.Listeners // listeners are network interfaces which listen for new connections
	Connections *Connections         // connections attached to the broker
	Registry    *Registry            // connections and their subscriptions
	Users       *users.Ledger        // the user directory
	Info        *system.Info         // values about the server
	Log         *slog.Logger         // structured logger
	loop        *loop                // loop contains tickers for the system event loop
	done        chan bool            // indicate that the server is ending
	hooks       *Hooks               // hooks contains hooks for extra functionality
	pool        *FanPool             // the reactor worker pool, nil in tpc mode
	nextID      int64                // the last allocated connection id
}

// loop contains interval tickers for the system events loop.
type loop struct {
	sysInfo *time.Ticker // interval ticker for refreshing system info
}

// ops contains server values which can be propagated to connections.
type ops struct {
	options *Options     // a pointer to the server options and capabilities
	info    *system.Info // pointers to server system info
	hooks   *Hooks       // pointer to the server hooks
	log     *slog.Logger // a structured logger for the connection
}

// New returns a new instance of the broker. Optional parameters
// can be specified to override some default settings (see Options).
func New(opts *Options) *Server {
	if opts == nil {
		opts = new(Options)
	}

	opts.ensureDefaults()

	registry := NewRegistry()
	registry.StrictMessageIDs = opts.Capabilities.Compatibilities.StrictMessageIDs

	s := &Server{
		done:        make(chan bool),
		Connections: NewConnections(),
		Registry:    registry,
		Users:       opts.Users,
		Listeners:   listeners.New(),
		loop: &loop{
			sysInfo: time.NewTicker(time.Second * time.Duration(opts.SysInfoInterval)),
		},
		Options: opts,
		Info: &system.Info{
			Version: Version,
			Started: time.Now().Unix(),
		},
		Log: opts.Logger,
		hooks: &Hooks{
			Log: opts.Logger,
		},
	}

	if s.Users == nil {
		s.Users = users.NewLedger(s.Log.With("component", "users"))
	} else {
		s.Users.SetLogger(s.Log.With("component", "users"))
	}

	if opts.Mode == ModeReactor {
		s.pool = NewFanPool(opts.ReactorWorkers, opts.ReactorQueueSize)
	}

	return s
}

// ensureDefaults ensures that the server starts with sane default values, if none are provided.
func (o *Options) ensureDefaults() {
	if o.Capabilities == nil {
		o.Capabilities = NewDefaultServerCapabilities()
	}

	if o.Capabilities.MaximumClients == 0 {
		o.Capabilities.MaximumClients = math.MaxInt64
	}

	if o.Capabilities.MaximumClientWritesPending == 0 {
		o.Capabilities.MaximumClientWritesPending = 1024 * 8
	}

	if o.Capabilities.MaximumFrameSize == 0 {
		o.Capabilities.MaximumFrameSize = 1024 * 64
	}

	if o.Capabilities.ProtocolVersion == "" {
		o.Capabilities.ProtocolVersion = ProtocolVersion
	}

	o.Mode = strings.ToLower(o.Mode)
	if o.Mode == "" {
		o.Mode = ModeTPC
	}

	if o.ReactorWorkers == 0 {
		o.ReactorWorkers = runtime.NumCPU()
	}

	if o.ReactorQueueSize == 0 {
		o.ReactorQueueSize = 1024
	}

	if o.SysInfoInterval == 0 {
		o.SysInfoInterval = defaultSysInfoInterval
	}

	if o.ClientNetWriteBufferSize == 0 {
		o.ClientNetWriteBufferSize = 1024 * 2
	}

	if o.ClientNetReadBufferSize == 0 {
		o.ClientNetReadBufferSize = 1024 * 2
	}

	if o.Logger == nil {
		log := slog.New(slog.NewTextHandler(os.Stdout, nil))
		o.Logger = log
	}
}

// NewConnection returns a new Connection instance with a fresh registry id, populated
// with the references it needs from the server.
func (s *Server) NewConnection(c net.Conn, listener string) *Connection {
	cl := newConnection(c, int(atomic.AddInt64(&s.nextID, 1)), &ops{
		options: s.Options,
		info:    s.Info,
		hooks:   s.hooks,
		log:     s.Log,
	})

	cl.Net.Listener = listener
	cl.Log = cl.Log.With("listener", listener, "remote", cl.Net.Remote)
	cl.protocol = NewProtocol(cl.ID, s.Registry, s.Users, ProtocolOptions{
		Log:               cl.Log,
		Info:              s.Info,
		RecoverableErrors: s.Options.Capabilities.Compatibilities.RecoverableErrors,
		OnLogin: func(username string, status users.LoginStatus) {
			if status.Succeeded() {
				cl.setUsername(username)
			}
			s.hooks.OnLogin(cl, username, status)
		},
	})

	return cl
}

// AddHook attaches a new Hook to the server. Ideally, this should be called
// before the server is started with s.Serve().
func (s *Server) AddHook(hook Hook, config any) error {
	nl := s.Log.With("hook", hook.ID())
	hook.SetOpts(nl, &HookOptions{
		Capabilities: s.Options.Capabilities,
	})

	s.Log.Info("added hook", "hook", hook.ID())
	return s.hooks.Add(hook, config)
}

// AddHooksFromConfig adds hooks to the server which were specified in the hooks config (usually from a config file).
func (s *Server) AddHooksFromConfig(hooks []HookLoadConfig) error {
	for _, h := range hooks {
		if err := s.AddHook(h.Hook, h.Config); err != nil {
			return err
		}
	}
	return nil
}

// AddListener adds a new network listener to the server, for receiving incoming client connections.
func (s *Server) AddListener(l listeners.Listener) error {
	if _, ok := s.Listeners.Get(l.ID()); ok {
		return ErrListenerIDExists
	}

	nl := s.Log.With(slog.String("listener", l.ID()))
	if err := l.Init(nl); err != nil {
		return err
	}

	s.Listeners.Add(l)

	s.Log.Info("attached listener", "id", l.ID(), "protocol", l.Protocol(), "address", l.Address())
	return nil
}

// AddListenersFromConfig adds listeners to the server which were specified in the listeners config (usually from a config file).
func (s *Server) AddListenersFromConfig(configs []listeners.Config) error {
	for _, conf := range configs {
		var l listeners.Listener
		switch strings.ToLower(conf.Type) {
		case listeners.TypeTCP:
			l = listeners.NewTCP(conf)
		case listeners.TypeWS:
			l = listeners.NewWebsocket(conf)
		case listeners.TypeUnix:
			l = listeners.NewUnixSock(conf)
		case listeners.TypeHealthCheck:
			l = listeners.NewHTTPHealthCheck(conf)
		case listeners.TypeSysInfo:
			l = listeners.NewHTTPStats(conf, s.Info)
		case listeners.TypeMock:
			l = listeners.NewMockListener(conf.ID, conf.Address)
		default:
			s.Log.Error("listener type unavailable by config", "listener", conf.Type)
			continue
		}
		if err := s.AddListener(l); err != nil {
			return err
		}
	}
	return nil
}

// Serve starts the event loops responsible for establishing client connections
// on all attached listeners, refreshing the system info, and starting all hooks.
func (s *Server) Serve() error {
	s.Log.Info("stomp broker starting", "version", Version, "mode", s.Options.Mode)
	defer s.Log.Info("stomp broker started")

	if s.Options.Mode != ModeTPC && s.Options.Mode != ModeReactor {
		return ErrInvalidMode
	}

	if len(s.Options.Listeners) > 0 {
		if err := s.AddListenersFromConfig(s.Options.Listeners); err != nil {
			return err
		}
	}

	if len(s.Options.Hooks) > 0 {
		if err := s.AddHooksFromConfig(s.Options.Hooks); err != nil {
			return err
		}
	}

	if s.Options.UserStore != nil && s.Options.UserStore.Store != nil {
		if err := s.Users.Attach(s.Options.UserStore.Store, s.Options.UserStore.Config); err != nil {
			return err
		}
	}

	go s.eventLoop()                            // spin up event loop for refreshing system info and closing server.
	s.Listeners.ServeAll(s.EstablishConnection) // start listening on all listeners.
	s.publishSysInfo()                          // begin refreshing system values.
	s.hooks.OnStarted()

	return nil
}

// eventLoop loops forever, running server housekeeping methods at intervals.
func (s *Server) eventLoop() {
	s.Log.Debug("system event loop started")
	defer s.Log.Debug("system event loop halted")

	for {
		select {
		case <-s.done:
			s.loop.sysInfo.Stop()
			return
		case <-s.loop.sysInfo.C:
			s.publishSysInfo()
		}
	}
}

// EstablishConnection establishes a new client when a listener accepts a new connection.
func (s *Server) EstablishConnection(listener string, c net.Conn) error {
	cl := s.NewConnection(c, listener)
	return s.attachConnection(cl, listener)
}

// attachConnection registers a connection with the broker and reads frames from it
// until it ends. Registry and directory state are always released on return.
func (s *Server) attachConnection(cl *Connection, listener string) error {
	if !s.Listeners.TrackClient() {
		cl.Stop(ErrServerShuttingDown)
		return ErrServerShuttingDown
	}
	defer s.Listeners.ClientsWg.Done()

	cl.Start()
	defer cl.Stop(nil)

	atomic.AddInt64(&s.Info.ClientsTotal, 1)
	connected, ok := s.reserveClient()
	if !ok {
		cl.Deliver(ErrServerUnavailable.Frame("").String())
		atomic.AddInt64(&s.Info.Errors, 1)
		return ErrServerBusy
	}
	defer atomic.AddInt64(&s.Info.ClientsConnected, -1)

	if err := s.hooks.OnConnect(cl); err != nil {
		return err
	}

	for {
		peak := atomic.LoadInt64(&s.Info.ClientsMaximum)
		if connected <= peak || atomic.CompareAndSwapInt64(&s.Info.ClientsMaximum, peak, connected) {
			break
		}
	}

	s.Connections.Add(cl)
	s.Registry.Register(cl.ID, cl.Deliver)
	cl.Log.Debug("client connected")

	err := cl.Read(s.receiveFrame)
	if errors.Is(err, ErrClientTerminated) {
		err = nil
	}

	s.release(cl)
	cl.Stop(err)
	s.Log.Debug("client disconnected", "error", err, "client", cl.ID, "session", cl.Session, "remote", cl.Net.Remote, "listener", listener)

	atomic.AddInt64(&s.Info.ClientsDisconnected, 1)
	s.hooks.OnDisconnect(cl, err)

	return err
}

// reserveClient counts a client as connected unless MaximumClients are already
// connected, returning the new count.
func (s *Server) reserveClient() (int64, bool) {
	for {
		n := atomic.LoadInt64(&s.Info.ClientsConnected)
		if n >= s.Options.Capabilities.MaximumClients {
			return n, false
		}
		if atomic.CompareAndSwapInt64(&s.Info.ClientsConnected, n, n+1) {
			return n + 1, true
		}
	}
}

// release removes a connection from the registry and logs its user out. In reactor
// mode it runs behind any frames still queued for the connection.
func (s *Server) release(cl *Connection) {
	fn := func() {
		s.Registry.Disconnect(cl.ID)
		s.Users.Logout(cl.ID)
		s.Connections.Delete(cl.ID)
	}

	if s.pool == nil {
		fn()
		return
	}

	released := make(chan struct{})
	if !s.pool.Enqueue(cl.Session, func() {
		fn()
		close(released)
	}) {
		fn()
		return
	}
	<-released
}

// receiveFrame passes a frame read from a connection through the hooks and on to the protocol.
func (s *Server) receiveFrame(cl *Connection, f frames.Frame) error {
	atomic.AddInt64(&s.Info.FramesReceived, 1)

	f, err := s.hooks.OnFrameRead(cl, f)
	if err != nil {
		cl.Deliver(ErrFrameRejectedByServer.Frame(f.Headers[frames.HeaderReceipt]).String())
		atomic.AddInt64(&s.Info.Errors, 1)
		return err
	}

	if s.pool == nil {
		return s.processFrame(cl, f)
	}

	if !s.pool.Enqueue(cl.Session, func() {
		_ = s.processFrame(cl, f)
	}) {
		return ErrServerShuttingDown
	}

	return nil
}

// processFrame runs the protocol for a single frame and stops the connection if the
// protocol has terminated it.
func (s *Server) processFrame(cl *Connection, f frames.Frame) error {
	if cl.Closed() {
		return ErrConnectionClosed
	}

	err := cl.protocol.ProcessFrame(f)
	s.hooks.OnFrameProcessed(cl, f, err)

	if cl.protocol.ShouldTerminate() {
		if s.pool != nil {
			go cl.Stop(ErrClientTerminated)
		}
		return ErrClientTerminated
	}

	return nil
}

// publishSysInfo refreshes the current values of the server system info.
func (s *Server) publishSysInfo() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	atomic.StoreInt64(&s.Info.MemoryAlloc, int64(m.HeapInuse))
	atomic.StoreInt64(&s.Info.Threads, int64(runtime.NumGoroutine()))
	atomic.StoreInt64(&s.Info.Time, time.Now().Unix())
	atomic.StoreInt64(&s.Info.Uptime, time.Now().Unix()-atomic.LoadInt64(&s.Info.Started))
	atomic.StoreInt64(&s.Info.UsersOnline, int64(s.Users.Online()))
	atomic.StoreInt64(&s.Info.Subscriptions, s.Registry.SubscriptionsLen())
	atomic.StoreInt64(&s.Info.Destinations, int64(s.Registry.Destinations()))

	s.hooks.OnSysInfoTick(s.Info.Clone())
}

// Close attempts to gracefully shut down the server, all listeners, connections, and stores.
func (s *Server) Close() error {
	close(s.done)
	s.Log.Info("gracefully stopping server")
	s.Listeners.CloseAll(s.closeListenerClients)

	if s.pool != nil {
		s.pool.Close()
		s.pool.Wait()
	}

	s.hooks.OnStopped()
	s.hooks.Stop()

	if err := s.Users.Stop(); err != nil {
		s.Log.Error("failed to stop user store", "error", err)
	}

	s.Log.Info("stomp broker stopped")
	return nil
}

// closeListenerClients closes all connections on the specified listener.
func (s *Server) closeListenerClients(listener string) {
	for _, cl := range s.Connections.GetByListener(listener) {
		cl.Stop(ErrServerShuttingDown)
	}
}

// DisconnectClient closes a connection, sending it an ERROR frame with the given code first.
func (s *Server) DisconnectClient(cl *Connection, code Code) error {
	if cl.Closed() {
		return ErrConnectionClosed
	}

	cl.Deliver(code.Frame("").String())
	atomic.AddInt64(&s.Info.Errors, 1)
	cl.Stop(code)
	return nil
}

// Report returns the user report as a table.
func (s *Server) Report() string {
	var sb strings.Builder
	if err := s.Users.WriteReport(&sb); err != nil {
		s.Log.Error("failed to write user report", "error", err)
	}
	return sb.String()
}

// String returns a short description of the server.
func (s *Server) String() string {
	return fmt.Sprintf("stomp %s (%s)", Version, s.Options.Mode)
}
