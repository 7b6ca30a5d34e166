package main

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"taskhub/internal/config"
	"taskhub/internal/database"
	"taskhub/internal/discovery"
	"taskhub/internal/handlers"
	"taskhub/internal/models"
	"taskhub/internal/registry"
	"taskhub/internal/repositories"
	"taskhub/internal/services"
	"taskhub/pkg/rabbitmq"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RegistryServiceName is the name the registry reports on /health.
const RegistryServiceName = "registry"

type server struct {
	name string
	addr string
	app  *fiber.App
}

// registryClient is what a service needs from the registry: announce itself
// and resolve its dependencies.
type registryClient interface {
	registry.Registrar
	registry.Resolver
}

// node is one process running one or all of the services.
type node struct {
	cfg      config.Config
	log      logrus.FieldLogger
	servers  []server
	tasks    []func(ctx context.Context)
	closers  []func() error
	wg       sync.WaitGroup
	registry registryClient
}

// newNode wires every service the configured role runs. Nothing listens
// until start is called.
func newNode(cfg config.Config, log logrus.FieldLogger) (*node, error) {
	n := &node{cfg: cfg, log: log}
	auth := services.NewAuthService(cfg.Auth.ServiceSecret)

	if n.runs(config.RoleRegistry) {
		backend, err := n.newRegistryBackend()
		if err != nil {
			n.close()
			return nil, err
		}
		app := newFiberApp(RegistryServiceName)
		handlers.NewRegistryHandler(backend, auth, log).RegisterRoutes(app.Group("/api"))
		n.servers = append(n.servers, server{name: RegistryServiceName, addr: cfg.Server.RegistryAddr, app: app})
		n.tasks = append(n.tasks, func(ctx context.Context) {
			registry.RunSweeper(ctx, backend, cfg.Registry.SweepInterval, log)
		})
		n.registry = backend
	} else {
		var tokens registry.TokenSource
		if auth.Enabled() {
			tokens = auth
		}
		n.registry = registry.NewClient(cfg.Registry.URL, cfg.Discovery.Timeout, tokens)
	}

	if !n.runs(config.RoleUser) && !n.runs(config.RoleTask) {
		return n, nil
	}

	db, err := n.openDatabase()
	if err != nil {
		n.close()
		return nil, err
	}

	if n.runs(config.RoleUser) {
		var userRepo repositories.UserRepository = repositories.NewMemoryUserRepository()
		if db != nil {
			userRepo = repositories.NewGORMUserRepository(db)
		}
		app := newFiberApp(discovery.UserServiceName)
		handlers.NewUserHandler(services.NewUserService(userRepo, log), log).RegisterRoutes(app.Group("/api"))
		n.addService(discovery.UserServiceName, cfg.Server.UserAddr, app)
	}

	if n.runs(config.RoleTask) {
		var taskRepo repositories.TaskRepository = repositories.NewMemoryTaskRepository()
		if db != nil {
			taskRepo = repositories.NewGORMTaskRepository(db)
		}
		users := discovery.NewUserClient(discovery.NewClient(n.registry, discovery.Config{
			Timeout:     cfg.Discovery.Timeout,
			MaxAttempts: cfg.Discovery.MaxAttempts,
		}, log))

		var events services.EventPublisher
		if mq := n.connectEvents(); mq != nil {
			events = mq
		}

		app := newFiberApp(discovery.TaskServiceName)
		handlers.NewTaskHandler(services.NewTaskService(taskRepo, users, events, log), log).RegisterRoutes(app.Group("/api"))
		n.addService(discovery.TaskServiceName, cfg.Server.TaskAddr, app)
	}

	return n, nil
}

func (n *node) runs(role string) bool {
	return n.cfg.App.Role == config.RoleAll || n.cfg.App.Role == role
}

// addService serves app on addr and keeps it registered while the node runs.
func (n *node) addService(name, addr string, app *fiber.App) {
	n.servers = append(n.servers, server{name: name, addr: addr, app: app})

	advertised := advertiseAddress(n.cfg.Server.AdvertiseHost, addr)
	lease := n.cfg.Lease()
	n.tasks = append(n.tasks, func(ctx context.Context) {
		registry.Heartbeat(ctx, n.registry, name, advertised, lease, n.log)
	})
}

func (n *node) newRegistryBackend() (registry.Backend, error) {
	if n.cfg.Registry.Backend != "redis" {
		return registry.New(registry.WithLogger(n.log)), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     n.cfg.Redis.Addr,
		Password: n.cfg.Redis.Password,
		DB:       n.cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", n.cfg.Redis.Addr, err)
	}
	n.closers = append(n.closers, client.Close)
	return registry.NewRedisRegistry(client, "taskhub:registry:", n.log), nil
}

// openDatabase returns nil for the memory driver.
func (n *node) openDatabase() (*gorm.DB, error) {
	if n.cfg.Database.Driver == "memory" {
		return nil, nil
	}

	db, err := database.Open(n.cfg.Database.Driver, n.cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err == nil {
		n.closers = append(n.closers, sqlDB.Close)
	}

	var toMigrate []interface{}
	if n.runs(config.RoleUser) {
		toMigrate = append(toMigrate, &models.User{})
	}
	if n.runs(config.RoleTask) {
		toMigrate = append(toMigrate, &models.Task{})
	}
	if err := database.Migrate(db, toMigrate...); err != nil {
		return nil, err
	}
	return db, nil
}

// connectEvents returns nil when events are disabled or the broker is down;
// the task-service runs without events in that case.
func (n *node) connectEvents() *rabbitmq.Client {
	if n.cfg.RabbitMQ.URL == "" {
		return nil
	}

	mq, err := rabbitmq.NewClient(rabbitmq.Config{URL: n.cfg.RabbitMQ.URL, Queue: n.cfg.RabbitMQ.Queue}, n.log)
	if err != nil {
		n.log.WithError(err).Warn("task events disabled")
		return nil
	}
	n.closers = append(n.closers, mq.Close)
	n.tasks = append(n.tasks, func(ctx context.Context) {
		if err := mq.ConsumeTaskEvents(ctx, rabbitmq.AuditHandler(n.log.WithField("component", "audit"))); err != nil {
			n.log.WithError(err).Warn("failed to start task event consumer")
		}
	})
	return mq
}

// start begins listening and runs the background tasks until ctx is done.
func (n *node) start(ctx context.Context) {
	for _, s := range n.servers {
		s := s
		n.log.WithFields(logrus.Fields{"service": s.name, "addr": s.addr}).Info("starting server")
		go func() {
			if err := s.app.Listen(s.addr); err != nil {
				n.log.WithField("service", s.name).WithError(err).Error("server stopped")
			}
		}()
	}

	for _, task := range n.tasks {
		task := task
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			task(ctx)
		}()
	}
}

// shutdown waits for the background tasks (which deregister the services),
// then stops the servers and releases connections. The context passed to
// start must already be cancelled.
func (n *node) shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		n.log.Warn("background tasks did not stop in time")
	}

	var firstErr error
	for _, s := range n.servers {
		if err := s.app.ShutdownWithContext(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutdown %s: %w", s.name, err)
		}
	}
	if err := n.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (n *node) close() error {
	var firstErr error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	n.closers = nil
	return firstErr
}

func newFiberApp(name string) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               name,
		DisableStartupMessage: true,
	})
	app.Use(requestid.New())
	app.Use(logger.New())
	handlers.RegisterHealth(app, name)
	return app
}

// advertiseAddress turns a listen address such as ":8081" into the address
// other services should dial.
func advertiseAddress(host, listenAddr string) string {
	listenHost, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return listenAddr
	}
	if host == "" {
		host = listenHost
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
