package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"boxgraph/cas"
	"boxgraph/codec"
	"boxgraph/diff"
	"boxgraph/graph"
	"boxgraph/pack"
)

var inspectCmd = &cobra.Command{
	Use:     "inspect <document>",
	Short:   "Show what a document contains",
	Args:    cobra.ExactArgs(1),
	GroupID: groupDocument,
	RunE:    runInspect,
}

var verifyCmd = &cobra.Command{
	Use:     "verify <document>",
	Short:   "Load a document and check its pointer integrity",
	Args:    cobra.ExactArgs(1),
	GroupID: groupDocument,
	RunE:    runVerify,
}

var exportCmd = &cobra.Command{
	Use:   "export <document>",
	Short: "Convert a document to a JSON tree",
	Long: `Convert a document to a JSON tree.

The output is canonical JSON: object keys sorted, no insignificant
whitespace. Use --indent for a readable form.`,
	Args:    cobra.ExactArgs(1),
	GroupID: groupDocument,
	RunE:    runExport,
}

var importCmd = &cobra.Command{
	Use:     "import <tree.json>",
	Short:   "Convert a JSON tree to a binary document",
	Args:    cobra.ExactArgs(1),
	GroupID: groupDocument,
	RunE:    runImport,
}

var diffCmd = &cobra.Command{
	Use:   "diff <before> <after>",
	Short: "Show box and field changes between two documents",
	Long: `Show box and field changes between two documents.

Examples:
  boxgraph diff old.bxgr new.bxgr           # Box and field summary
  boxgraph diff --json old.bxgr new.bxgr    # Same, as JSON
  boxgraph diff -p old.bxgr new.bxgr        # Line diff of the JSON trees`,
	Args:    cobra.ExactArgs(2),
	GroupID: groupDocument,
	RunE:    runDiff,
}

var packCmd = &cobra.Command{
	Use:   "pack [document]",
	Short: "Bundle a document into a zstd pack",
	Long: `Bundle a document into a zstd pack.

With a document argument the pack holds just that document. With --from-store
it holds the newest snapshot of the store document and every journal entry
recorded after it.`,
	Args:    cobra.MaximumNArgs(1),
	GroupID: groupTransfer,
	RunE:    runPack,
}

var unpackCmd = &cobra.Command{
	Use:     "unpack <pack>",
	Short:   "Restore the document held by a pack",
	Args:    cobra.ExactArgs(1),
	GroupID: groupTransfer,
	RunE:    runUnpack,
}

var (
	outPath    string
	indentFlag bool
	boxesFlag  bool
	jsonFlag   bool
	patchFlag  bool
	fromStore  bool
	expectFlag string
)

func init() {
	inspectCmd.Flags().BoolVar(&boxesFlag, "boxes", false, "List every box with its content id")
	exportCmd.Flags().StringVarP(&outPath, "output", "o", "", "Output file (default stdout)")
	exportCmd.Flags().BoolVar(&indentFlag, "indent", false, "Indent the JSON")
	importCmd.Flags().StringVarP(&outPath, "output", "o", "", "Output file (default stdout)")
	diffCmd.Flags().BoolVar(&jsonFlag, "json", false, "Output as JSON")
	diffCmd.Flags().BoolVarP(&patchFlag, "patch", "p", false, "Show a line diff of the JSON trees")
	packCmd.Flags().StringVarP(&outPath, "output", "o", "", "Output file (default stdout)")
	packCmd.Flags().BoolVar(&fromStore, "from-store", false, "Pack the store document and its journal")
	unpackCmd.Flags().StringVarP(&outPath, "output", "o", "", "Output file (default stdout)")
	unpackCmd.Flags().StringVar(&expectFlag, "expect", "", "Hex blake3 digest the restored document must have")

	rootCmd.AddCommand(inspectCmd, verifyCmd, exportCmd, importCmd, diffCmd, packCmd, unpackCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	g, data, err := readGraph(cmd, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	format := "json tree"
	if isBinary(data) {
		format = "binary"
	}
	fmt.Fprintf(out, "Format:  %s\n", format)
	fmt.Fprintf(out, "Size:    %s\n", humanize.Bytes(uint64(len(data))))
	fmt.Fprintf(out, "Digest:  %s\n", cas.Blake3HashHex(codec.Encode(g)))
	fmt.Fprintf(out, "Boxes:   %s\n", humanize.Comma(int64(g.Len())))

	counts := make(map[string]int)
	edges := 0
	for _, b := range g.Boxes() {
		counts[b.Kind()]++
		edges += b.Hub().Len()
	}
	fmt.Fprintf(out, "Pointers: %s\n", humanize.Comma(int64(edges)))
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(out, "  %-12s %d\n", k, counts[k])
	}

	if boxesFlag {
		fmt.Fprintln(out)
		for _, b := range g.Boxes() {
			id, err := cas.ContentID(b.Kind(), b.ToTree()["fields"])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s  %-12s %s  in:%d\n", b.ID(), b.Kind(), shortHex(id), b.Hub().Len())
		}
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	g, _, err := readGraph(cmd, args[0])
	if err != nil {
		return err
	}
	if err := g.VerifyIntegrity(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok: %d boxes\n", g.Len())
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	g, _, err := readGraph(cmd, args[0])
	if err != nil {
		return err
	}
	data, err := treeJSON(g, indentFlag)
	if err != nil {
		return err
	}
	return writeOutput(cmd, outPath, data)
}

// treeJSON renders the canonical tree, optionally indented.
func treeJSON(g *graph.Graph, indent bool) ([]byte, error) {
	data, err := codec.EncodeJSON(g)
	if err != nil || !indent {
		return data, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func runImport(cmd *cobra.Command, args []string) error {
	g, data, err := readGraph(cmd, args[0])
	if err != nil {
		return err
	}
	if isBinary(data) {
		return errors.Errorf("%s is already a binary document", args[0])
	}
	return writeOutput(cmd, outPath, codec.Encode(g))
}

func runDiff(cmd *cobra.Command, args []string) error {
	before, _, err := readGraph(cmd, args[0])
	if err != nil {
		return err
	}
	after, _, err := readGraph(cmd, args[1])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if patchFlag {
		a, err := treeJSON(before, true)
		if err != nil {
			return err
		}
		b, err := treeJSON(after, true)
		if err != nil {
			return err
		}
		if bytes.Equal(a, b) {
			fmt.Fprintln(out, "No changes.")
			return nil
		}
		writeUnifiedDiff(out, string(a), string(b))
		return nil
	}

	gd, err := diff.Compute(before, after)
	if err != nil {
		return err
	}
	if jsonFlag {
		data, err := gd.FormatJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	if gd.Empty() {
		fmt.Fprintln(out, "No changes.")
		return nil
	}
	fmt.Fprint(out, gd.FormatText())
	return nil
}

func runPack(cmd *cobra.Command, args []string) error {
	level, err := cfg.EncoderLevel()
	if err != nil {
		return err
	}
	opt := zstd.WithEncoderLevel(level)

	var packed []byte
	switch {
	case fromStore:
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		objects, err := storeObjects(db, cfg.Document)
		if err != nil {
			return err
		}
		if packed, err = pack.Build(objects, opt); err != nil {
			return err
		}
	case len(args) == 1:
		g, _, err := readGraph(cmd, args[0])
		if err != nil {
			return err
		}
		if packed, err = pack.FromGraph(g, nil, opt); err != nil {
			return err
		}
	default:
		return errors.New("pack needs a document or --from-store")
	}
	log.WithField("size", humanize.Bytes(uint64(len(packed)))).Info("pack built")
	return writeOutput(cmd, outPath, packed)
}

func runUnpack(cmd *cobra.Command, args []string) error {
	data, err := readFile(cmd, args[0])
	if err != nil {
		return err
	}
	p, err := pack.ReadLimit(bytes.NewReader(data), cfg.MaxPackSize)
	if err != nil {
		return err
	}
	g, err := newGraph()
	if err != nil {
		return err
	}
	if err := p.Restore(g); err != nil {
		return err
	}
	doc := codec.Encode(g)
	if expectFlag != "" {
		want, err := cas.HexToBytes(expectFlag)
		if err != nil {
			return errors.Wrap(err, "--expect")
		}
		if got := cas.Blake3Hash(doc); !bytes.Equal(got, want) {
			return errors.Errorf("restored document digest %x, expected %x", got, want)
		}
	}
	return writeOutput(cmd, outPath, doc)
}

func shortHex(b []byte) string {
	s := cas.BytesToHex(b)
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
