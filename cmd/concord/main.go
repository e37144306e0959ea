package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/concordkv/concord/pkg/transport"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Version information, set via ldflags during build.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeOf(err))
	}
}

// exitCodeOf maps a startup/runtime error to the process exit code:
// 0 clean shutdown, 1 startup failure, 2 unrecoverable runtime error.
func exitCodeOf(err error) int {
	if _, ok := err.(*runtimeError); ok {
		return 2
	}
	return 1
}

// runtimeError marks an error that happened after the node was already
// serving traffic, distinguishing it from a startup failure for the
// exit-code contract.
type runtimeError struct{ err error }

func (r *runtimeError) Error() string { return r.err.Error() }

var rootCmd = &cobra.Command{
	Use:   "concord",
	Short: "Concord - unified service discovery and configuration platform",
	Long: `Concord speaks the Nacos, Consul, and Apollo wire protocols over a
single core: configuration items with gray release, service instance
discovery, distributed locks and sessions, replicated for durability and
eventually-consistent for ephemeral liveness.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("Concord version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.PersistentFlags().String("config", "", "Path to a KEY=value configuration file")

	serverCmd.Flags().String("mode", "all", "Run mode: all, server-only, console-only, standalone")
	serverCmd.Flags().String("node-id", "", "Unique node ID")
	serverCmd.Flags().String("bind-addr", "", "Raft transport bind address")
	serverCmd.Flags().String("client-addr", "", "Client-facing gRPC listen address")
	serverCmd.Flags().String("internal-addr", "", "Cluster-internal gRPC listen address")
	serverCmd.Flags().String("health-addr", "", "HTTP health/ready/metrics listen address")
	serverCmd.Flags().String("data-dir", "", "Durable storage directory")
	serverCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	serverCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
	serverCmd.Flags().String("auth-secret", "", "Secret signing bearer tokens")
	serverCmd.Flags().String("cluster-identity", "", "Shared cluster-internal server identity")
	serverCmd.Flags().String("local-dc", "", "This node's datacenter label")
	serverCmd.Flags().String("join", "", "Internal address of an existing cluster member to join through")
	serverCmd.Flags().String("join-token", "", "Join token minted by the cluster being joined")
	serverCmd.Flags().Duration("ephemeral-ttl", 0, "TTL before an ephemeral instance without a heartbeat is marked unhealthy")
	serverCmd.Flags().Duration("session-sweep-interval", 0, "How often expired sessions are swept and their keys released")
	serverCmd.Flags().Int("history-retention", 0, "Config history entries retained per key")
	serverCmd.Flags().Int("max-content-size", 0, "Maximum config item content size in bytes")
	serverCmd.Flags().String("redis-addr", "", "Redis address backing the AP item store (memory store if empty)")
	serverCmd.Flags().String("redis-prefix", "", "Key prefix for the Redis-backed AP item store")
	serverCmd.Flags().Duration("sample-interval", 0, "Local resource sampling interval")
	serverCmd.Flags().Duration("verify-interval", 0, "AP convergence verify round interval")
	serverCmd.Flags().Duration("tombstone-retention", 0, "How long AP tombstones are kept before sweeping")
	serverCmd.Flags().Int("suspicious-after", 0, "Missed heartbeats before a member is marked Suspicious")
	serverCmd.Flags().Int("down-after", 0, "Missed heartbeats before a member is marked Down")

	clusterJoinTokenCmd.Flags().String("dial", "127.0.0.1:8849", "Internal address of the node to mint a token on")
	clusterJoinTokenCmd.Flags().String("cluster-identity", "concord-cluster", "Shared cluster-internal server identity")
	clusterJoinTokenCmd.Flags().String("role", "voter", "Token role: voter or nonvoter")

	clusterJoinCmd.Flags().String("dial", "", "Internal address of the cluster's current leader")
	clusterJoinCmd.Flags().String("cluster-identity", "concord-cluster", "Shared cluster-internal server identity")
	clusterJoinCmd.Flags().String("node-id", "", "This node's ID")
	clusterJoinCmd.Flags().String("address", "", "This node's Raft bind address")
	clusterJoinCmd.Flags().String("token", "", "Join token minted by clusterJoinTokenCmd")

	clusterInfoCmd.Flags().String("dial", "127.0.0.1:8849", "Internal address of a node to query")
	clusterInfoCmd.Flags().String("cluster-identity", "concord-cluster", "Shared cluster-internal server identity")

	clusterCmd.AddCommand(clusterJoinTokenCmd, clusterJoinCmd, clusterInfoCmd)
	rootCmd.AddCommand(serverCmd, clusterCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run a Concord node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runServer(cfg)
	},
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster membership administration",
}

var clusterJoinTokenCmd = &cobra.Command{
	Use:   "join-token",
	Short: "Mint a token authorizing a new node to join the cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		dial, _ := cmd.Flags().GetString("dial")
		identity, _ := cmd.Flags().GetString("cluster-identity")
		role, _ := cmd.Flags().GetString("role")

		client, conn, err := dialTransport(dial)
		if err != nil {
			return err
		}
		defer conn.Close()

		resp, err := unaryCall[transport.ClusterJoinTokenResponse](client, identity, transport.TypeClusterJoinToken, transport.ClusterJoinTokenRequest{Role: role})
		if err != nil {
			return fmt.Errorf("failed to mint join token: %w", err)
		}

		fmt.Printf("Join token (role=%s, expires %s):\n\n    %s\n\n", role, resp.ExpiresAt.Format(time.RFC3339), resp.Token)
		return nil
	},
}

var clusterJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Ask the cluster's leader to admit this node as a Raft voter",
	RunE: func(cmd *cobra.Command, args []string) error {
		dial, _ := cmd.Flags().GetString("dial")
		identity, _ := cmd.Flags().GetString("cluster-identity")
		nodeID, _ := cmd.Flags().GetString("node-id")
		address, _ := cmd.Flags().GetString("address")
		token, _ := cmd.Flags().GetString("token")

		if dial == "" || nodeID == "" || address == "" || token == "" {
			return fmt.Errorf("--dial, --node-id, --address, and --token are all required")
		}

		client, conn, err := dialTransport(dial)
		if err != nil {
			return err
		}
		defer conn.Close()

		_, err = unaryCall[struct{}](client, identity, transport.TypeClusterJoin, transport.ClusterJoinRequest{NodeID: nodeID, Address: address, Token: token})
		if err != nil {
			return fmt.Errorf("failed to join cluster: %w", err)
		}

		fmt.Printf("%s admitted as a voter at %s\n", nodeID, address)
		return nil
	},
}

var clusterInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the Raft cluster's current membership",
	RunE: func(cmd *cobra.Command, args []string) error {
		dial, _ := cmd.Flags().GetString("dial")
		identity, _ := cmd.Flags().GetString("cluster-identity")

		client, conn, err := dialTransport(dial)
		if err != nil {
			return err
		}
		defer conn.Close()

		resp, err := unaryCall[transport.ClusterInfoResponse](client, identity, transport.TypeClusterInfo, transport.ClusterInfoRequest{})
		if err != nil {
			return fmt.Errorf("failed to fetch cluster info: %w", err)
		}

		fmt.Println("Cluster servers:")
		for _, s := range resp.Servers {
			fmt.Printf("  %s\t%s\t%s\n", s.ID, s.Address, s.Suffrage)
		}
		return nil
	},
}

func dialTransport(addr string) (transport.TransportClient, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return transport.NewTransportClient(conn), conn, nil
}

// unaryCall sends one request envelope over the internal endpoint's Unary
// RPC, tagged with the shared cluster identity header, and decodes the
// response body into T.
func unaryCall[T any](client transport.TransportClient, identity, envType string, req interface{}) (*T, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.Unary(ctx, &transport.Envelope{
		Type:    envType,
		Headers: map[string]string{"serverIdentity": identity},
		Body:    body,
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s: %s", resp.Error.Kind, resp.Error.Message)
	}

	var out T
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return &out, nil
}
