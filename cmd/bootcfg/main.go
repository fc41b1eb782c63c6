// Command bootcfg renders and validates a Limine boot command line using
// the same whitespace-separated key[=value] convention
// multiboot.GetBootCmdLine parses at boot time, so a line this tool accepts
// is guaranteed parseable by the kernel.
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	flags "github.com/jessevdk/go-flags"
)

type options struct {
	Set   []string `long:"set" description:"key=value pair to include, e.g. --set root=/dev/sda1 (repeatable)"`
	Flag  []string `long:"flag" description:"bare flag with no value to include (repeatable)"`
	Check string   `long:"check" description:"an existing command line to validate instead of rendering one"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	if opts.Check != "" {
		kv, err := parseCmdLine(opts.Check)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bootcfg: %v\n", err)
			os.Exit(1)
		}
		for k, v := range kv {
			fmt.Printf("%s=%s\n", k, v)
		}
		return
	}

	fmt.Println(render(opts))
}

// render builds a command line from opts in a stable (sorted-by-key) order
// so repeated invocations with the same flags are byte-identical.
func render(opts options) string {
	sets := append([]string(nil), opts.Set...)
	sort.Strings(sets)

	flagsCopy := append([]string(nil), opts.Flag...)
	sort.Strings(flagsCopy)

	return strings.Join(append(sets, flagsCopy...), " ")
}

// parseCmdLine follows multiboot.GetBootCmdLine's parsing:
// whitespace-separated tokens, each either "key=value" or a bare "key"
// (whose value becomes the key itself, matching the kernel's own
// cmdLineKV[kv[0]] = kv[0] fallback). A token with more than one '=' is an
// error here, where GetBootCmdLine skips it.
func parseCmdLine(line string) (map[string]string, error) {
	kv := make(map[string]string)
	for _, pair := range strings.Fields(line) {
		parts := strings.Split(pair, "=")
		switch len(parts) {
		case 2:
			kv[parts[0]] = parts[1]
		case 1:
			kv[parts[0]] = parts[0]
		default:
			return nil, fmt.Errorf("malformed token %q: more than one '='", pair)
		}
	}
	return kv, nil
}
