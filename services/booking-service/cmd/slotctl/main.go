package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/agendaly/agendaly/libs/auth"
	"github.com/agendaly/agendaly/libs/db"
	"github.com/agendaly/agendaly/libs/grpcx"
	"github.com/agendaly/agendaly/libs/runtime"
	"github.com/agendaly/agendaly/services/booking-service/internal/availability"
	"github.com/agendaly/agendaly/services/booking-service/internal/grpcserver"
	"github.com/agendaly/agendaly/services/booking-service/internal/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "slotctl",
		Short:         "Operator tooling for the booking service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(slotsCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(healthCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(migrateCmd())
	return root
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print the slot grid for a day from a schedule fixture",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("fixture")
			staffID, _ := cmd.Flags().GetString("staff")
			serviceID, _ := cmd.Flags().GetString("service")
			date, _ := cmd.Flags().GetString("date")
			free, _ := cmd.Flags().GetBool("free")

			fx, err := loadFixture(path)
			if err != nil {
				return err
			}
			slots, byTime, err := fx.slots(cmd.Context(), staffID, serviceID, date)
			if err != nil {
				return err
			}
			printSlots(cmd.OutOrStdout(), slots, byTime, free)
			return nil
		},
	}
	cmd.Flags().String("fixture", "-", "Fixture file, - for stdin")
	cmd.Flags().String("staff", availability.AnyProfessional, "Staff id or \"any\"")
	cmd.Flags().String("service", "", "Service id")
	cmd.Flags().String("date", "", "Date as YYYY-MM-DD")
	cmd.Flags().Bool("free", false, "Only print bookable times")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func printSlots(w io.Writer, slots []availability.TimeSlot, byTime map[availability.Clock][]string, free bool) {
	if len(slots) == 0 {
		fmt.Fprintln(w, "closed")
		return
	}
	for _, s := range slots {
		if free && !s.Available {
			continue
		}
		state := "free"
		if !s.Available {
			state = "busy"
		}
		if staff := byTime[s.Time]; len(staff) > 0 {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Time, state, strings.Join(staff, ","))
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", s.Time, state)
	}
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the booking guard against a fixture",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("fixture")
			staffID, _ := cmd.Flags().GetString("staff")
			date, _ := cmd.Flags().GetString("date")
			start, _ := cmd.Flags().GetString("start")
			duration, _ := cmd.Flags().GetInt("duration")

			fx, err := loadFixture(path)
			if err != nil {
				return err
			}
			v, err := fx.check(staffID, date, start, duration)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if v.OK() {
				fmt.Fprintln(out, "ok")
				return nil
			}
			if v.Reason == availability.ReasonSlotConflict {
				fmt.Fprintf(out, "%s: %s (appointment %s at %s)\n", v.Reason, v.Message(), v.ConflictID, v.ConflictStart)
			} else {
				fmt.Fprintf(out, "%s: %s\n", v.Reason, v.Message())
			}
			return fmt.Errorf("booking rejected: %s", v.Reason)
		},
	}
	cmd.Flags().String("fixture", "-", "Fixture file, - for stdin")
	cmd.Flags().String("staff", "", "Staff id")
	cmd.Flags().String("date", "", "Date as YYYY-MM-DD")
	cmd.Flags().String("start", "", "Start time as HH:MM")
	cmd.Flags().Int("duration", availability.DefaultDurationMinutes, "Duration in minutes")
	for _, f := range []string{"staff", "date", "start"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func healthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the booking service gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: timeout})
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcserver.ServiceName})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus().String())
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("service is %s", resp.GetStatus())
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "localhost:9093", "gRPC address")
	cmd.Flags().Duration("timeout", 3*time.Second, "Dial and call timeout")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 tenant token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, _ := cmd.Flags().GetString("secret")
			orgID, _ := cmd.Flags().GetString("org")
			subject, _ := cmd.Flags().GetString("subject")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}

			now := time.Now()
			tok, err := auth.SignHS256(auth.Claims{
				OrgID: orgID,
				Role:  role,
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   subject,
					IssuedAt:  jwt.NewNumericDate(now),
					ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				},
			}, secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("secret", "", "HMAC secret (defaults to JWT_SECRET)")
	cmd.Flags().String("org", "", "Organization id claim")
	cmd.Flags().String("subject", "dev", "Subject claim")
	cmd.Flags().String("role", "owner", "Role claim")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations to DATABASE_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := os.Getenv("DATABASE_URL")
			if url == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			return db.Migrate(url, storage.Migrations, "migrations", runtime.NewLogger("slotctl"))
		},
	}
}
