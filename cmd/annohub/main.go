// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command annohub runs the collaborative genome annotation server.
//
// Usage:
//
//	annohub serve --config config.yaml
//	annohub export --config config.yaml --out ./mirrors
//	annohub token --user u1 --name Ada --role user
//
// All config values can also come from ANNOHUB_* environment variables;
// see the annotation package for the full list.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seqlab/annohub/pkg/logging"
	"github.com/seqlab/annohub/services/annotation"
	"github.com/seqlab/annohub/services/annotation/datatypes"
	"github.com/seqlab/annohub/services/annotation/middleware"
	"github.com/seqlab/annohub/services/annotation/mirror"
	"github.com/seqlab/annohub/services/annotation/store"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "annohub",
		Short: "Collaborative genome annotation server",
		Long: `Annohub serves a shared genome annotation database: typed changes,
optimistic concurrency, live websocket collaboration and a GFF3 mirror
for downstream pipelines.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the annotation API server",
		RunE:  runServe,
	}

	exportOut = ""
	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Write a one-off GFF3 export of every assembly",
		RunE:  runExport,
	}

	tokenUser string
	tokenName string
	tokenRole string
	tokenTTL  time.Duration
	tokenCmd  = &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for a user (jwt auth mode only)",
		RunE:  runToken,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (optional)")

	exportCmd.Flags().StringVar(&exportOut, "out", "./mirrors", "Output directory for GFF3 files")

	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "User id (subject claim)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "Display name")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "user", "Role: readOnly, user or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(serveCmd, exportCmd, tokenCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg annotation.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "annohub",
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := annotation.LoadConfig(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Close()

	svc, err := annotation.NewService(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return svc.Run(ctx)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := annotation.LoadConfig(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Close()

	db, err := store.Open(store.DefaultOptions(cfg.DataDir))
	if err != nil {
		return err
	}
	defer db.Close()

	exporter, err := mirror.NewExporter(exportOut, db, log)
	if err != nil {
		return err
	}
	if err := exporter.ExportAll(cmd.Context()); err != nil {
		return err
	}
	fmt.Printf("exported assemblies to %s\n", exportOut)
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := annotation.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.Mode != "jwt" {
		return fmt.Errorf("token minting requires auth mode jwt, config has %q", cfg.Auth.Mode)
	}

	role := datatypes.Role(tokenRole)
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", tokenRole)
	}
	provider, err := middleware.NewJWTProvider([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTIssuer)
	if err != nil {
		return err
	}
	token, err := provider.Issue(datatypes.Identity{UserID: tokenUser, Name: tokenName, Role: role}, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
