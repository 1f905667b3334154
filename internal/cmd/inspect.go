package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/neehar-mavuduru/daq-rawwriter/rawwriter"
)

// headerReport is the inspect output for one file
type headerReport struct {
	Path         string  `json:"path"`
	FileSize     int64   `json:"file_size"`
	PayloadSize  int64   `json:"payload_size"`
	CreationTime uint64  `json:"creation_time"`
	SyncEpoch    float64 `json:"sync_epoch"`
	Frequency    uint32  `json:"frequency"`
	Mode         string  `json:"mode"`
	TriggerID    int     `json:"trigger_id"`
}

func newInspectCommand(gs *globalState) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect FILE...",
		Short: "Decode the acquisition header of raw data files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				report, err := inspectFile(path)
				if err != nil {
					return err
				}
				if err := printReport(cmd.OutOrStdout(), report, asJSON); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per file")

	return cmd
}

func inspectFile(path string) (headerReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return headerReport{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return headerReport{}, err
	}

	buf := make([]byte, rawwriter.HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return headerReport{}, fmt.Errorf("%s: %w (%d bytes on disk)", path, rawwriter.ErrInvalidHeader, info.Size())
	}

	h, err := rawwriter.DecodeHeader(buf)
	if err != nil {
		return headerReport{}, fmt.Errorf("%s: %w", path, err)
	}

	return headerReport{
		Path:         path,
		FileSize:     info.Size(),
		PayloadSize:  info.Size() - rawwriter.HeaderSize,
		CreationTime: h.CreationTime,
		SyncEpoch:    h.SyncEpoch,
		Frequency:    h.Frequency,
		Mode:         h.Mode.String(),
		TriggerID:    h.TriggerID,
	}, nil
}

func printReport(w io.Writer, r headerReport, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(r)
	}

	trigger := "none"
	if r.TriggerID != rawwriter.NoTrigger {
		trigger = fmt.Sprint(r.TriggerID)
	}

	_, err := fmt.Fprintf(w, `%s
  File Size:      %d bytes
  Payload:        %d bytes
  Frequency:      %d Hz
  Mode:           %s
  Trigger:        %s
  Sync Epoch:     %g
  Creation Time:  %d
`, r.Path, r.FileSize, r.PayloadSize, r.Frequency, r.Mode, trigger, r.SyncEpoch, r.CreationTime)
	return err
}
