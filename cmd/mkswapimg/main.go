// Command mkswapimg formats a flat file or block device as a swap
// partition: a Header in block 0 followed by a singly-linked free list of
// one-block nodes, in the on-disk layout mm/swap.DiskProvider expects.
package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"gopheros/kernel/mm/swap"

	flags "github.com/jessevdk/go-flags"
)

type options struct {
	Output    string `short:"o" long:"output" description:"path to the image file or block device to format" required:"true"`
	Blocks    uint32 `short:"n" long:"blocks" description:"total block count, including the reserved header block" required:"true"`
	Reserved  uint32 `short:"r" long:"reserved" description:"number of leading blocks to exclude from the free list (at least 1, for the header)" default:"1"`
	BlockSize int    `long:"block-size" description:"block size in bytes" default:"4096"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	if opts.Reserved < 1 {
		fmt.Fprintln(os.Stderr, "mkswapimg: --reserved must be at least 1 (block 0 holds the header)")
		os.Exit(1)
	}
	if opts.Blocks <= opts.Reserved {
		fmt.Fprintln(os.Stderr, "mkswapimg: --blocks must exceed --reserved")
		os.Exit(1)
	}

	fd, err := unix.Open(opts.Output, unix.O_WRONLY|unix.O_CREAT, 0o600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkswapimg: open %s: %v\n", opts.Output, err)
		os.Exit(1)
	}
	defer unix.Close(fd)

	if err := writeImage(fd, opts); err != nil {
		fmt.Fprintf(os.Stderr, "mkswapimg: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("mkswapimg: formatted %s: %d blocks (%d reserved, %d in the free list)\n",
		opts.Output, opts.Blocks, opts.Reserved, opts.Blocks-opts.Reserved)
}

func writeImage(fd int, opts options) error {
	hdr := swap.Header{
		Magic:              swap.DiskMagic,
		Version:            1,
		ReservedBlockCount: opts.Reserved,
	}
	if err := pwriteBlock(fd, 0, hdr.MarshalBinary(), opts.BlockSize); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for lba := uint64(opts.Reserved); lba < uint64(opts.Blocks); lba++ {
		next := lba + 1
		nPages := uint32(1)
		if next >= uint64(opts.Blocks) {
			next = 0
			nPages = 0
		}
		buf := swap.MarshalFreeNode(nPages, next)
		if err := pwriteBlock(fd, lba, buf, opts.BlockSize); err != nil {
			return fmt.Errorf("write free node at lba %d: %w", lba, err)
		}
	}

	return nil
}

func pwriteBlock(fd int, lba uint64, payload []byte, blockSize int) error {
	buf := make([]byte, blockSize)
	copy(buf, payload)
	_, err := unix.Pwrite(fd, buf, int64(lba)*int64(blockSize))
	return err
}
