// famradix is a maintenance and inspection tool for shared radix-tree
// regions. It maps the region file named by --region, so several concurrent
// invocations (or other processes) can poke the same tree.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/spf13/cobra"

	"github.com/forestrie/go-famradix/fam"
	"github.com/forestrie/go-famradix/heap"
	"github.com/forestrie/go-famradix/radix"
	"github.com/forestrie/go-famradix/region"
)

type options struct {
	regionPath string
	logLevel   string
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:   "famradix",
		Short: "inspect and mutate a shared famradix region",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.New(opts.logLevel)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.OnExit()
		},
	}
	root.PersistentFlags().StringVar(&opts.regionPath, "region", "famradix.region", "backing file for the shared region")
	root.PersistentFlags().StringVar(&opts.logLevel, "loglevel", "NOOP", "log level (NOOP, DEBUG, INFO)")

	root.AddCommand(
		newCreateCmd(opts),
		newPutCmd(opts),
		newGetCmd(opts),
		newDelCmd(opts),
		newScanCmd(opts),
		newStructureCmd(opts),
		newListCmd(opts),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openTree maps an existing region and adopts the tree published in the
// heap root slot.
func openTree(opts *options) (*region.Region, *radix.Tree, error) {
	r, err := region.Open(opts.regionPath)
	if err != nil {
		return nil, nil, err
	}
	h, err := heap.Attach(r)
	if err != nil {
		r.Close()
		return nil, nil, err
	}
	rootG := h.RootGptr()
	if !rootG.IsValid() {
		r.Close()
		return nil, nil, errors.New("no tree planted in this region, run create first")
	}
	t, err := radix.New(r, h, rootG)
	if err != nil {
		r.Close()
		return nil, nil, err
	}
	return r, t, nil
}

func newCreateCmd(opts *options) *cobra.Command {
	var size uint64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "create a region, format the heap and plant an empty tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := region.Create(opts.regionPath, size)
			if err != nil {
				return err
			}
			defer r.Close()
			h, err := heap.Format(r, radix.NodeBytes)
			if err != nil {
				return err
			}
			t, err := radix.New(r, h, 0)
			if err != nil {
				return err
			}
			h.SetRootGptr(t.RootGptr())
			logger.Sugar.Infof("region %s: %d bytes, root %#x", opts.regionPath, r.Size(), uint64(t.RootGptr()))
			fmt.Printf("root %#x\n", uint64(t.RootGptr()))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&size, "size", 64<<20, "region size in bytes")
	return cmd
}

func newPutCmd(opts *options) *cobra.Command {
	var update bool
	cmd := &cobra.Command{
		Use:   "put KEY VALUE",
		Short: "associate a 64-bit value handle with a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseUint(args[1], 0, 64)
			if err != nil {
				return fmt.Errorf("parse value: %w", err)
			}
			r, t, err := openTree(opts)
			if err != nil {
				return err
			}
			defer r.Close()
			prev, err := t.Put([]byte(args[0]), fam.Gptr(value), update)
			if err != nil {
				return err
			}
			printTagGptr("previous", prev)
			return nil
		},
	}
	cmd.Flags().BoolVar(&update, "update", true, "overwrite an existing value")
	return cmd
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "look up the value handle for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, t, err := openTree(opts)
			if err != nil {
				return err
			}
			defer r.Close()
			tq, err := t.Get([]byte(args[0]))
			if err != nil {
				return err
			}
			printTagGptr("value", tq)
			return nil
		},
	}
}

func newDelCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "del KEY",
		Short: "tombstone the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, t, err := openTree(opts)
			if err != nil {
				return err
			}
			defer r.Close()
			prev, err := t.Destroy([]byte(args[0]))
			if err != nil {
				return err
			}
			printTagGptr("previous", prev)
			return nil
		},
	}
}

func newScanCmd(opts *options) *cobra.Command {
	var (
		begin, end         string
		beginOpen, endOpen bool
		beginExcl, endExcl bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "list keys in a range in lexicographic order",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, t, err := openTree(opts)
			if err != nil {
				return err
			}
			defer r.Close()

			bk, ek := []byte(begin), []byte(end)
			if beginOpen {
				bk, beginExcl = radix.OpenBoundaryKey, true
			}
			if endOpen {
				ek, endExcl = radix.OpenBoundaryKey, true
			}

			var it radix.Iter
			ok, err := t.Scan(&it, bk, !beginExcl, ek, !endExcl)
			if err != nil {
				return err
			}
			for ok {
				printEntry(it.Key(), it.Value())
				ok = t.GetNext(&it)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&begin, "begin", "", "range start key")
	cmd.Flags().StringVar(&end, "end", "", "range end key")
	cmd.Flags().BoolVar(&beginExcl, "begin-exclusive", false, "exclude the start key")
	cmd.Flags().BoolVar(&endExcl, "end-exclusive", false, "exclude the end key")
	cmd.Flags().BoolVar(&beginOpen, "begin-open", false, "scan from the smallest key")
	cmd.Flags().BoolVar(&endOpen, "end-open", false, "scan to the largest key")
	return cmd
}

func newStructureCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "structure",
		Short: "report per-level node and value counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, t, err := openTree(opts)
			if err != nil {
				return err
			}
			defer r.Close()
			t.Structure().Report(os.Stdout)
			return nil
		},
	}
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list every key and value handle",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, t, err := openTree(opts)
			if err != nil {
				return err
			}
			defer r.Close()
			stats := t.List(func(key []byte, value fam.Gptr) {
				printEntry(key, fam.TagGptr{Ptr: value})
			})
			fmt.Printf("depth %d nodes %d values %d\n", stats.Depth, stats.Nodes, stats.Values)
			return nil
		},
	}
}

func printEntry(key []byte, tq fam.TagGptr) {
	fmt.Printf("%s\t%#x\ttag=%d\n", hex.EncodeToString(key), uint64(tq.Ptr), tq.Tag)
}

func printTagGptr(label string, tq fam.TagGptr) {
	if !tq.IsValid() {
		fmt.Printf("%s: none (tag=%d)\n", label, tq.Tag)
		return
	}
	fmt.Printf("%s: %#x tag=%d\n", label, uint64(tq.Ptr), tq.Tag)
}
