// Package main provides the boxgraph CLI.
package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"boxgraph/codec"
	"boxgraph/config"
	"boxgraph/graph"
	"boxgraph/schema"
	"boxgraph/store"
)

// Version is the current boxgraph CLI version.
var Version = "0.3.0"

var (
	configPath string
	dataDir    string
	docName    string

	cfg *config.Config
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "boxgraph",
	Short: "Inspect, convert and store box graph documents",
	Long: `boxgraph works with box graph documents: binary (.bxgr) or JSON tree
files, zstd packs, and a SQLite store holding snapshots and a change journal.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Command groups for organized help output
const (
	groupDocument = "document"
	groupTransfer = "transfer"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "Store directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&docName, "doc", "", "Document name in the store (overrides config)")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupDocument, Title: "Documents:"},
		&cobra.Group{ID: groupTransfer, Title: "Packs and store:"},
	)
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	if cfg, err = config.Load(configPath); err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if docName != "" {
		cfg.Document = docName
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log = cfg.Logger()
	log.SetOutput(cmd.ErrOrStderr())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ----- Helpers -----

func factories() (graph.Factories, error) {
	if cfg.Schema == "" {
		return schema.Studio(), nil
	}
	return schema.Load(cfg.Schema)
}

func newGraph() (*graph.Graph, error) {
	fs, err := factories()
	if err != nil {
		return nil, err
	}
	return graph.New(fs, graph.WithLogger(log)), nil
}

// isBinary reports whether data starts with the binary document magic.
func isBinary(data []byte) bool {
	return len(data) >= 4 && int32(binary.BigEndian.Uint32(data)) == codec.Magic
}

// loadDocument decodes a binary or JSON tree document.
func loadDocument(data []byte) (*graph.Graph, error) {
	g, err := newGraph()
	if err != nil {
		return nil, err
	}
	if isBinary(data) {
		err = codec.Decode(data, g)
	} else {
		err = codec.DecodeJSON(data, g)
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// readFile reads path, or stdin for "-".
func readFile(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	return data, errors.Wrapf(err, "reading %s", path)
}

func readGraph(cmd *cobra.Command, path string) (*graph.Graph, []byte, error) {
	data, err := readFile(cmd, path)
	if err != nil {
		return nil, nil, err
	}
	g, err := loadDocument(data)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "loading %s", path)
	}
	return g, data, nil
}

// writeOutput writes data to path, or to the command's output for "" and "-".
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := io.Copy(cmd.OutOrStdout(), bytes.NewReader(data))
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "writing %s", path)
}

func openStore() (*store.DB, error) {
	db, err := store.OpenDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	log.WithField("path", db.Path()).Debug("store opened")
	return db, nil
}
