package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sebas/callservice/internal/banner"
	"github.com/sebas/callservice/internal/callservice/app"
	"github.com/sebas/callservice/internal/callservice/config"
	"github.com/sebas/callservice/internal/logger"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logFile := logger.Setup(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	defer logFile.Close()

	banner.Print(os.Stdout, "CALL SERVICE", []banner.ConfigLine{
		banner.Line("Node", cfg.NodeID),
		banner.Line("gRPC Listen", cfg.GRPCAddr),
		banner.Line("HTTP Listen", cfg.HTTPAddr),
		banner.Line("SIP Listen", sipLine(cfg.SIP)),
		banner.Line("NATS", cfg.NATSURL),
		banner.Line("Auth", authMode(cfg.JWTSecret)),
		banner.Line("SIM Slots", strconv.Itoa(len(cfg.Radio.Slots))),
		banner.Line("Max Calls", strconv.Itoa(cfg.MaxLiveCalls)),
		banner.Line("Ring Timeout", cfg.RingTimeout.String()),
		banner.Line("Emergency", strings.Join(cfg.EmergencyNumbers, ", ")),
		banner.Line("Log Level", logger.GetLevel()),
	})

	svc, err := app.New(cfg)
	if err != nil {
		slog.Error("Failed to create call service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		slog.Error("Call service stopped with error", "error", err)
		svc.Close()
		os.Exit(1)
	}
	slog.Info("Call service stopped")
}

func authMode(secret string) string {
	if secret == "" {
		return ""
	}
	return "jwt"
}

func sipLine(c config.SIPConfig) string {
	if c.ListenAddr == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s (%s calls)", c.ListenAddr, c.Network, c.CallType)
}
