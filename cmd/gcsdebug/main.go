package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mavgcs/internal/bus"
	"mavgcs/internal/calibration"
	"mavgcs/internal/config"
	"mavgcs/internal/fc"
	"mavgcs/internal/link"
	"mavgcs/internal/logging"
	"mavgcs/internal/mavlink"
	"mavgcs/internal/param"
	"mavgcs/internal/persistence"
	"mavgcs/internal/transport"
)

const (
	connectWaitTimeout = 30 * time.Second

	// How long the vehicle must sit still before a prompted accelerometer
	// position is confirmed automatically.
	positionHold = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("run gcsdebug", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config file path (default: user config dir)")
	connector := flag.String("connector", "", "connector type: serial or tcp")
	serialPort := flag.String("port", "", "serial port device")
	serialBaud := flag.Int("baud", 0, "serial baud rate")
	host := flag.String("host", "", "tcp host (SITL or bridge)")
	calibrate := flag.String("calibrate", "", "run a calibration: compass|accel|baro|esc|rc")
	accept := flag.Bool("accept", false, "send the compass accept command after a successful calibration")
	motor := flag.Int("motor", 0, "run a motor test for this motor (1-based)")
	throttle := flag.Float64("throttle", 10, "motor test throttle percent")
	motorFor := flag.Duration("motor-for", 3*time.Second, "motor test duration")
	getParam := flag.String("get", "", "read one parameter by name")
	setParam := flag.String("set", "", "write one parameter, NAME=VALUE")
	setType := flag.String("type", "real32", "wire type for -set: int8|int16|int32|uint8|uint16|uint32|real32")
	force := flag.Bool("force", false, "write the parameter even if the cached value matches")
	listenFor := flag.Duration("listen-for", 0, "after any operation, keep printing status text for this long")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := resolvePaths(*configPath)
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfg, err := config.Load(paths.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(&cfg, *connector, *serialPort, *serialBaud, *host)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid connection settings: %w", err)
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.logFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("cli")

	messageBus := bus.New(logMgr.Logger("bus"))
	defer messageBus.Close()

	var tr transport.Transport
	switch cfg.Connection.Connector {
	case config.ConnectorSerial:
		tr = transport.NewSerialTransport(cfg.Connection.SerialPort, cfg.Connection.SerialBaud)
	case config.ConnectorTCP:
		tr = transport.NewTCPTransport(cfg.Connection.Host, cfg.Connection.TCPPort)
	default:
		return fmt.Errorf("unknown connector: %s", cfg.Connection.Connector)
	}

	codec := mavlink.NewCodec(cfg.FC.GCSSystem, cfg.FC.GCSComponent)
	service := fc.NewService(logMgr.Logger("fc"), messageBus, tr, codec, cfg.FC.TargetSystem, cfg.FC.TargetComponent)
	invoker := fc.NewInvoker(logMgr.Logger("invoker"), messageBus, service, cfg.FC.TargetSystem, cfg.FC.TargetComponent)

	db, err := persistence.Open(ctx, paths.dbFile)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("close sqlite", "error", closeErr)
		}
	}()
	paramRepo := persistence.NewParamRepo(db)

	channel := param.NewChannel(logMgr.Logger("param"), messageBus, service, paramRepo, cfg.FC.TargetSystem, cfg.FC.TargetComponent)
	channel.Start(ctx)

	opts := calibration.Options{
		AckTimeout:     time.Duration(cfg.FC.AckTimeoutMS) * time.Millisecond,
		OutcomeTimeout: time.Duration(cfg.FC.OutcomeTimeoutMS) * time.Millisecond,
		MaxRetries:     cfg.FC.MaxRetries,
	}
	manager := calibration.NewManager(logMgr.Logger("calibration"), messageBus, invoker, opts)

	go printStatusText(ctx, messageBus)

	service.Start(ctx)
	if err := waitConnected(ctx, service); err != nil {
		return err
	}
	logger.Info("flight controller link up")

	switch {
	case *getParam != "":
		pv, err := channel.Request(ctx, *getParam)
		if err != nil {
			return fmt.Errorf("get %s: %w", *getParam, err)
		}
		fmt.Printf("%s = %v (%s, %d/%d)\n", pv.Name, pv.Value, pv.Type, pv.Index, pv.Count)

	case *setParam != "":
		name, value, err := parseAssignment(*setParam)
		if err != nil {
			return err
		}
		typ, err := parseParamType(*setType)
		if err != nil {
			return err
		}
		pv, err := channel.Set(ctx, name, value, typ, *force)
		if err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
		fmt.Printf("%s = %v confirmed\n", pv.Name, pv.Value)

	case *motor > 0:
		session, err := manager.StartMotorTest(ctx, *motor, *throttle, *motorFor)
		if err != nil {
			return err
		}
		if err := watchSession(ctx, messageBus, session, false); err != nil {
			return err
		}

	case *calibrate != "":
		session, err := manager.Start(ctx, calibration.Kind(*calibrate))
		if err != nil {
			return err
		}
		if err := watchSession(ctx, messageBus, session, true); err != nil {
			return err
		}
		if *accept && session.State().Phase == calibration.PhaseSuccess {
			if err := session.Accept(ctx); err != nil {
				return fmt.Errorf("accept calibration: %w", err)
			}
			fmt.Println("calibration accepted; reboot the flight controller to apply it")
		}
	}

	if *listenFor > 0 {
		logger.Info("listening", "for", listenFor.String())
		select {
		case <-ctx.Done():
		case <-time.After(*listenFor):
		}
	}

	return nil
}

type appPaths struct {
	configFile string
	dbFile     string
	logFile    string
}

func resolvePaths(configOverride string) (appPaths, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return appPaths{}, err
	}
	dir := filepath.Join(base, "mavgcs")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return appPaths{}, err
	}

	paths := appPaths{
		configFile: filepath.Join(dir, "config.json"),
		dbFile:     filepath.Join(dir, "params.db"),
		logFile:    filepath.Join(dir, "mavgcs.log"),
	}
	if configOverride != "" {
		paths.configFile = configOverride
	}
	return paths, nil
}

func applyFlags(cfg *config.AppConfig, connector, serialPort string, serialBaud int, host string) {
	if connector != "" {
		cfg.Connection.Connector = config.ConnectorType(connector)
	}
	if serialPort != "" {
		cfg.Connection.SerialPort = serialPort
	}
	if serialBaud > 0 {
		cfg.Connection.SerialBaud = serialBaud
	}
	if host != "" {
		cfg.Connection.Host = host
		if connector == "" {
			cfg.Connection.Connector = config.ConnectorTCP
		}
	}
}

func waitConnected(ctx context.Context, service *fc.Service) error {
	deadline := time.Now().Add(connectWaitTimeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		if service.Connected() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no heartbeat from flight controller within %s", connectWaitTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printStatusText(ctx context.Context, messageBus bus.MessageBus) {
	sub := messageBus.Subscribe(link.TopicStatusText)
	defer messageBus.Unsubscribe(sub, link.TopicStatusText)

	for {
		select {
		case <-ctx.Done():
			return
		case raw, open := <-sub:
			if !open {
				return
			}
			frame, isFrame := raw.(mavlink.Frame)
			if !isFrame {
				continue
			}
			if st, isText := frame.Message.(mavlink.StatusText); isText {
				fmt.Printf("[fc] %s\n", st.Text)
			}
		}
	}
}

// watchSession prints session updates until the session ends. With
// autoConfirm, accelerometer position prompts are confirmed after the vehicle
// has presumably been placed (a fixed hold delay).
func watchSession(ctx context.Context, messageBus bus.MessageBus, session *calibration.Session, autoConfirm bool) error {
	sub := messageBus.Subscribe(link.TopicCalibrationUpdate)
	defer messageBus.Unsubscribe(sub, link.TopicCalibrationUpdate)

	var holdTimer *time.Timer
	var holdCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			session.Cancel()
			return ctx.Err()
		case <-session.Done():
			state := session.State()
			fmt.Printf("[%s] %s: %s\n", state.Kind, state.Phase, state.Instruction)
			if state.Err != nil {
				return state.Err
			}
			return nil
		case <-holdCh:
			holdCh = nil
			if err := session.ConfirmPosition(); err == nil {
				fmt.Println("[cli] position confirmed")
			}
		case raw, open := <-sub:
			if !open {
				return nil
			}
			state, isState := raw.(calibration.State)
			if !isState {
				continue
			}
			fmt.Printf("[%s] %s (%d%%): %s\n", state.Kind, state.Phase, state.Progress, state.Instruction)
			if autoConfirm && state.Phase == calibration.PhaseAwaitingUser {
				fmt.Printf("[cli] place vehicle %s; confirming in %s\n", state.Position, positionHold)
				if holdTimer != nil {
					holdTimer.Stop()
				}
				holdTimer = time.NewTimer(positionHold)
				holdCh = holdTimer.C
			}
		}
	}
}

func parseAssignment(arg string) (string, float32, error) {
	name, valueRaw, ok := strings.Cut(arg, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return "", 0, fmt.Errorf("malformed -set argument %q, want NAME=VALUE", arg)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(valueRaw), 32)
	if err != nil {
		return "", 0, fmt.Errorf("malformed numeric value in %q: %w", arg, err)
	}
	return strings.TrimSpace(name), float32(value), nil
}

func parseParamType(raw string) (mavlink.ParamType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "uint8":
		return mavlink.ParamTypeUint8, nil
	case "int8":
		return mavlink.ParamTypeInt8, nil
	case "uint16":
		return mavlink.ParamTypeUint16, nil
	case "int16":
		return mavlink.ParamTypeInt16, nil
	case "uint32":
		return mavlink.ParamTypeUint32, nil
	case "int32":
		return mavlink.ParamTypeInt32, nil
	case "real32", "float", "float32":
		return mavlink.ParamTypeReal32, nil
	default:
		return 0, fmt.Errorf("unknown parameter type: %q", raw)
	}
}
