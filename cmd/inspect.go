package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/lightmesh/internal/inspect"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Decode captured mesh traffic",
	Long: `Decode mesh frames offline, either from a pcap capture of the radio
emulation or from a hex dump of a single frame.

Examples:
  tcpdump -i eth0 -w mesh.pcap udp port 4777
  lightmesh inspect --pcap mesh.pcap
  lightmesh inspect --hex "be ef 2c 21 ..."
  lightmesh inspect --hex 4e4f03520a`,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch {
		case inspectPcap != "":
			return runInspectPcap(cmd.OutOrStdout(), inspectPcap, inspectPort)
		case inspectHex != "":
			return runInspectHex(cmd.OutOrStdout(), inspectHex, inspectLink)
		default:
			return fmt.Errorf("one of --pcap or --hex is required")
		}
	},
}

var (
	inspectPcap string
	inspectHex  string
	inspectPort uint16
	inspectLink bool
)

func init() {
	inspectCmd.Flags().StringVar(&inspectPcap, "pcap", "", "pcap file to decode")
	inspectCmd.Flags().StringVar(&inspectHex, "hex", "", "hex dump of one frame")
	inspectCmd.Flags().Uint16Var(&inspectPort, "port", inspect.DefaultPort, "UDP port of the mesh (0 = any)")
	inspectCmd.Flags().BoolVar(&inspectLink, "link", false, "hex dump starts with the dst|src link header")
	inspectCmd.MarkFlagsMutuallyExclusive("pcap", "hex")
}

func runInspectPcap(out io.Writer, path string, port uint16) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	sum, err := inspect.ReadPcap(f, inspect.Options{Port: port}, func(r inspect.Record) {
		fmt.Fprintf(out, "#%d %s\n", r.Index, r)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d packet(s), %d mesh datagram(s): %d frame(s), %d ack(s), %d invalid\n",
		sum.Packets, sum.Datagrams, sum.Frames, sum.Acks, sum.Invalid)
	return nil
}

func runInspectHex(out io.Writer, dump string, link bool) error {
	rec, err := inspect.DecodeHex(dump, link)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, rec)
	if rec.Err != nil {
		return fmt.Errorf("invalid frame: %w", rec.Err)
	}
	return nil
}
