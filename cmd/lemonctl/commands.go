package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/denismitr/lemonproxy"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var errNotFound = errors.New("record not found")

type options struct {
	dir        string
	db         string
	collection string
	version    uint64
	idField    string
}

// open starts a proxy over the configured collection. Reads never project, so
// the model only needs the identity field.
func (o *options) open(shape lemonproxy.Shape) (*lemonproxy.Proxy, lemonproxy.Closer, error) {
	cfg := lemonproxy.Config{
		Dir:            o.dir,
		DatabaseName:   o.db,
		CollectionName: o.collection,
		Version:        o.version,
		Shape:          shape,
	}

	return lemonproxy.New(cfg, lemonproxy.NewModel(o.idField))
}

func newRootCmd() *cobra.Command {
	o := &options{}

	cmd := &cobra.Command{
		Use:          "lemonctl",
		Short:        "Inspect a lemonproxy database collection",
		SilenceUsage: true,
	}

	// glog reads its flags from the go flag set cobra already filled in
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if !flag.Parsed() {
			_ = flag.CommandLine.Parse(nil)
		}
	}

	cmd.PersistentFlags().StringVar(&o.dir, "dir", ".", "directory holding the database files")
	cmd.PersistentFlags().StringVar(&o.db, "db", "", "database name")
	cmd.PersistentFlags().StringVar(&o.collection, "collection", "", "collection name")
	cmd.PersistentFlags().Uint64Var(&o.version, "version", 1, "database version, a higher version than stored drops the collection")
	cmd.PersistentFlags().StringVar(&o.idField, "id-field", lemonproxy.DefaultIDField, "identity field of the records")

	cmd.AddCommand(
		countCmd(o),
		getCmd(o),
		listCmd(o),
		treeCmd(o),
		clearCmd(o),
	)

	return cmd
}

func countCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, closer, err := o.open(lemonproxy.ShapeUnknown)
			if err != nil {
				return err
			}
			defer closer()

			n, err := p.Count(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func getCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, closer, err := o.open(lemonproxy.ShapeUnknown)
			if err != nil {
				return err
			}
			defer closer()

			data, err := p.Get(cmd.Context(), parseID(args[0]))
			if err != nil {
				return err
			}

			if data == nil {
				return errors.Wrapf(errNotFound, "id %s", args[0])
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(data)
		},
	}
}

func listCmd(o *options) *cobra.Command {
	var (
		start   int
		limit   int
		sorts   []string
		columns []string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print records as a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, closer, err := o.open(lemonproxy.ShapeFlat)
			if err != nil {
				return err
			}
			defer closer()

			q := lemonproxy.Q().Page(start, limit)
			for _, s := range sorts {
				property, order := parseSort(s)
				q.Sort(property, order)
			}

			op := q.Operation()
			if err := p.Read(cmd.Context(), op); err != nil {
				return err
			}

			rs := op.ResultSet()
			if len(columns) == 0 {
				columns = columnsOf(o.idField, rs.Records)
			}

			renderTable(cmd.OutOrStdout(), columns, rs.Records)
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d records\n", rs.Count, rs.Total)
			return nil
		},
	}

	cmd.Flags().IntVar(&start, "start", 0, "offset of the first record")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records, 0 for all")
	cmd.Flags().StringArrayVar(&sorts, "sort", nil, "sort by field, field:desc for descending order")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "fields to print, all fields by default")

	return cmd
}

func treeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print records as an outline of parent links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, closer, err := o.open(lemonproxy.ShapeHierarchical)
			if err != nil {
				return err
			}
			defer closer()

			op := lemonproxy.Q().Operation()
			if err := p.Read(cmd.Context(), op); err != nil {
				return err
			}

			for _, r := range sortedByID(op.ResultSet().Records) {
				printNode(cmd.OutOrStdout(), r)
			}

			return nil
		},
	}
}

func clearCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every record of the collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, closer, err := o.open(lemonproxy.ShapeUnknown)
			if err != nil {
				return err
			}
			defer closer()

			return p.Clear(cmd.Context())
		},
	}
}

// parseID reads integer looking arguments as integer identities.
func parseID(s string) interface{} {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

func parseSort(s string) (string, lemonproxy.Order) {
	property, dir := s, ""
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		property, dir = s[:i], s[i+1:]
	}

	if strings.EqualFold(dir, "desc") {
		return property, lemonproxy.Descend
	}
	return property, lemonproxy.Ascend
}

// columnsOf lists the identity field followed by every other field seen, sorted.
func columnsOf(idField string, records []*lemonproxy.Record) []string {
	seen := map[string]struct{}{idField: {}}
	var rest []string
	for _, r := range records {
		for name := range r.Data() {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)

	return append([]string{idField}, rest...)
}

func renderTable(w io.Writer, columns []string, records []*lemonproxy.Record) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(columns)
	table.SetAutoFormatHeaders(false)

	for _, r := range records {
		row := make([]string, len(columns))
		for i, c := range columns {
			row[i] = renderValue(r.Get(c))
		}
		table.Append(row)
	}

	table.Render()
}

func renderValue(v interface{}) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

func sortedByID(records []*lemonproxy.Record) []*lemonproxy.Record {
	out := append([]*lemonproxy.Record(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		return lessID(out[i].ID(), out[j].ID())
	})
	return out
}

// lessID orders integer identities numerically and before string identities.
func lessID(a, b interface{}) bool {
	x, xInt := a.(int64)
	y, yInt := b.(int64)
	switch {
	case xInt && yInt:
		return x < y
	case xInt != yInt:
		return xInt
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func printNode(w io.Writer, r *lemonproxy.Record) {
	marker := "+"
	if r.IsLeaf() {
		marker = "-"
	}

	fmt.Fprintf(w, "%s%s %v\n", strings.Repeat("  ", r.Depth()-1), marker, r.ID())

	for _, c := range sortedByID(r.ChildNodes()) {
		printNode(w, c)
	}
}
