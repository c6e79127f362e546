package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"attendance-bridge/internal/attendance"
	"attendance-bridge/internal/bridge"
	"attendance-bridge/internal/config"
	"attendance-bridge/internal/protocol"
)

var (
	deviceID   string
	jsonOutput bool

	logsFrom    string
	logsTo      string
	logsSummary bool

	userPin       int
	userName      string
	userCard      int
	userGroup     int
	userPrivilege int
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List the users stored on a device",
	RunE:  runUsers,
}

var usersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a user to a ZKTeco device",
	RunE:  runUsersWrite,
}

var usersUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update a user on a ZKTeco device",
	RunE:  runUsersWrite,
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a user from a ZKTeco device",
	RunE:  runUsersWrite,
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Read the attendance log of a device",
	Long: `Read the attendance log of a device. --from and --to accept RFC3339 or
YYYY-MM-DD in the configured timezone; --to is exclusive and a bare date
covers the whole day. --summary classifies each employee's day against
the configured shift.`,
	RunE: runLogs,
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that devices answer the handshake",
	RunE:  runPing,
}

func init() {
	for _, cmd := range []*cobra.Command{usersCmd, logsCmd} {
		cmd.Flags().StringVar(&deviceID, "device", "", "device id (required)")
		cmd.MarkFlagRequired("device")
		cmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")
	}

	for _, cmd := range []*cobra.Command{usersAddCmd, usersUpdateCmd, usersDeleteCmd} {
		cmd.Flags().StringVar(&deviceID, "device", "", "device id (required)")
		cmd.MarkFlagRequired("device")
		cmd.Flags().IntVar(&userPin, "pin", 0, "employee code (required)")
		cmd.MarkFlagRequired("pin")
		usersCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{usersAddCmd, usersUpdateCmd} {
		cmd.Flags().StringVar(&userName, "name", "", "user name")
		cmd.Flags().IntVar(&userCard, "card", 0, "card number")
		cmd.Flags().IntVar(&userGroup, "group", 1, "group id")
		cmd.Flags().IntVar(&userPrivilege, "privilege", 0, "privilege level (0 user, 14 admin)")
	}

	logsCmd.Flags().StringVar(&logsFrom, "from", "", "earliest punch")
	logsCmd.Flags().StringVar(&logsTo, "to", "", "latest punch (exclusive)")
	logsCmd.Flags().BoolVar(&logsSummary, "summary", false, "print per-day shift summaries")

	pingCmd.Flags().StringVar(&deviceID, "device", "", "ping only this device id")

	rootCmd.AddCommand(usersCmd, logsCmd, pingCmd)
}

func newSyncer() (*bridge.Syncer, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return bridge.NewSyncer(cfg, nil, nil, commandLogger()), cfg, nil
}

func commandContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	// caps a whole command; each read is also bounded by the device timeout
	return context.WithTimeout(context.Background(), time.Duration(cfg.DeviceTimeout)*time.Second*10)
}

func runUsers(cmd *cobra.Command, args []string) error {
	syncer, cfg, err := newSyncer()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cfg)
	defer cancel()

	users, err := syncer.Users(ctx, deviceID)
	if err != nil {
		return err
	}

	if jsonOutput {
		rendered := make([]map[string]interface{}, 0, len(users))
		for _, u := range users {
			rendered = append(rendered, u.Map())
		}
		return printJSON(cmd.OutOrStdout(), rendered)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PIN\tNAME\tROLE\tCARD\tGROUP")
	for _, u := range users {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\n", u.EmployeeCode, u.Name, u.Role, u.CardID, u.GroupID)
	}
	return w.Flush()
}

func runUsersWrite(cmd *cobra.Command, args []string) error {
	if userPin <= 0 {
		return fmt.Errorf("--pin must be positive")
	}

	syncer, cfg, err := newSyncer()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cfg)
	defer cancel()

	user := protocol.UserRecord{
		EmployeeCode: userPin,
		Name:         userName,
		Privilege:    userPrivilege,
		Role:         protocol.RoleFor(userPrivilege),
		CardID:       userCard,
		GroupID:      userGroup,
	}

	switch cmd.Name() {
	case "add":
		err = syncer.AddUser(ctx, deviceID, user)
	case "update":
		err = syncer.UpdateUser(ctx, deviceID, userPin, user)
	case "delete":
		err = syncer.DeleteUser(ctx, deviceID, userPin)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s user %d: ok\n", deviceID, cmd.Name(), userPin)
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	syncer, cfg, err := newSyncer()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	shift, err := cfg.Sync.Shift.Shift()
	if err != nil {
		return err
	}
	from, err := parseBound(logsFrom, loc, false)
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	to, err := parseBound(logsTo, loc, true)
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}

	ctx, cancel := commandContext(cfg)
	defer cancel()

	records, err := syncer.AttendanceLogs(ctx, deviceID)
	if err != nil {
		return err
	}

	punches := make([]attendance.Punch, 0, len(records))
	for _, p := range attendance.FromRecords(deviceID, records) {
		if !from.IsZero() && p.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !p.Timestamp.Before(to) {
			continue
		}
		punches = append(punches, p)
	}
	attendance.Sort(punches)

	if logsSummary {
		summaries := attendance.Summarise(attendance.Dedupe(punches, cfg.Sync.DedupeWindow), shift, loc)
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), summaries)
		}
		return printSummaries(cmd.OutOrStdout(), summaries, loc)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), punches)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tPIN\tPUNCH\tVERIFY")
	for _, p := range punches {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\n",
			p.Timestamp.In(loc).Format("2006-01-02 15:04:05"), p.EmployeeCode,
			protocol.DirectionName(p.Direction), p.VerifyMode)
	}
	return w.Flush()
}

func printSummaries(out io.Writer, summaries []attendance.DaySummary, loc *time.Location) error {
	clock := func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.In(loc).Format("15:04")
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tPIN\tIN\tOUT\tWORKED\tFLAGS")
	for _, s := range summaries {
		var flags []string
		if s.Late {
			flags = append(flags, "late "+s.LateBy.String())
		}
		if s.LeftEarly {
			flags = append(flags, "early "+s.EarlyBy.String())
		}
		if s.MissingPunch {
			flags = append(flags, "missing punch")
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%v\n",
			s.Date, s.EmployeeCode, clock(s.FirstIn), clock(s.LastOut),
			s.Worked.Round(time.Minute), flags)
	}
	return w.Flush()
}

func runPing(cmd *cobra.Command, args []string) error {
	syncer, cfg, err := newSyncer()
	if err != nil {
		return err
	}

	devices := syncer.Devices()
	if deviceID != "" {
		device, ok := syncer.Device(deviceID)
		if !ok {
			return fmt.Errorf("%w: %s", bridge.ErrUnknownDevice, deviceID)
		}
		devices = []config.DeviceConfig{device}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tADDRESS\tSTATUS\tNAME\tLATENCY")

	failed := 0
	for _, d := range devices {
		ctx, cancel := commandContext(cfg)
		start := time.Now()
		name, err := syncer.Ping(ctx, d.ID)
		cancel()

		status := "online"
		if err != nil {
			status = "offline: " + err.Error()
			failed++
		}
		fmt.Fprintf(w, "%s\t%s:%d\t%s\t%s\t%s\n", d.ID, d.IP, d.Port, status, name, time.Since(start).Round(time.Millisecond))
	}
	w.Flush()

	if failed > 0 {
		return fmt.Errorf("%d of %d devices unreachable", failed, len(devices))
	}
	return nil
}

// parseBound accepts RFC3339 or a bare date; a bare upper bound covers its day
func parseBound(value string, loc *time.Location, upper bool) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", value)
	}
	if upper {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

func printJSON(out io.Writer, v interface{}) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
