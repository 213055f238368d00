// Package envclient talks to a remote Environment oracle over gRPC and
// resolves its answers into in-memory snapshots, so the kernel itself never
// performs I/O.
package envclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/macterra/Axio-sub017/internal/mask"
	"github.com/macterra/Axio-sub017/internal/norm"
)

// Oracle RPC method names.
const (
	MethodProgressSet = "/normkernel.environment.v1.Oracle/ProgressSet"
	MethodRank        = "/normkernel.environment.v1.Oracle/Rank"
	MethodNonce       = "/normkernel.environment.v1.Oracle/Nonce"
	MethodInventory   = "/normkernel.environment.v1.Oracle/Inventory"
)

// #region client-struct
// Client wraps the gRPC connection to the Environment oracle.
type Client struct {
	conn    grpc.ClientConnInterface
	closer  *grpc.ClientConn
	timeout time.Duration
}
// #endregion client-struct

// #region constructor
// Dial connects to the oracle at addr. A positive timeout bounds each RPC.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, closer: conn, timeout: timeout}, nil
}

// NewWithConn creates a Client over an injected connection.
// Used for testing without a real gRPC server.
func NewWithConn(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}
// #endregion constructor

// Close shuts down the gRPC connection, if the client owns one.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// #region invoke
func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, fmt.Errorf("%s rpc: %w", method, err)
	}
	return out, nil
}

// observationValue renders obs as plain JSON values for structpb.
func observationValue(obs norm.Observation) (map[string]any, error) {
	raw, err := json.Marshal(obs)
	if err != nil {
		return nil, fmt.Errorf("marshal observation: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal observation: %w", err)
	}
	return m, nil
}

func stringList(s *structpb.Struct, key string) ([]string, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("field %q is not a list", key)
	}
	out := make([]string, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		str, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("field %q[%d] is not a string", key, i)
		}
		out = append(out, str.StringValue)
	}
	return out, nil
}
// #endregion invoke

// #region progress-set
// ProgressSet asks which actions make progress toward target at obs.
func (c *Client) ProgressSet(ctx context.Context, obs norm.Observation, target string) ([]string, error) {
	o, err := observationValue(obs)
	if err != nil {
		return nil, err
	}
	resp, err := c.invoke(ctx, MethodProgressSet, map[string]any{"observation": o, "target": target})
	if err != nil {
		return nil, err
	}
	return stringList(resp, "actions")
}
// #endregion progress-set

// #region rank
// Rank asks for the distance-to-goal of target at obs. known is false when
// the oracle cannot rank the target.
func (c *Client) Rank(ctx context.Context, obs norm.Observation, target string) (rank float64, known bool, err error) {
	o, err := observationValue(obs)
	if err != nil {
		return 0, false, err
	}
	resp, err := c.invoke(ctx, MethodRank, map[string]any{"observation": o, "target": target})
	if err != nil {
		return 0, false, err
	}
	f := resp.GetFields()
	return f["rank"].GetNumberValue(), f["known"].GetBoolValue(), nil
}
// #endregion rank

// #region nonce
// Nonce fetches a fresh high-entropy nonce, transported as base64.
func (c *Client) Nonce(ctx context.Context) ([]byte, error) {
	resp, err := c.invoke(ctx, MethodNonce, map[string]any{})
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(resp.GetFields()["nonce"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("oracle returned an empty nonce")
	}
	return raw, nil
}
// #endregion nonce

// #region inventory
// Inventory lists the actions executable at obs.
func (c *Client) Inventory(ctx context.Context, obs norm.Observation) (mask.Inventory, error) {
	o, err := observationValue(obs)
	if err != nil {
		return nil, err
	}
	resp, err := c.invoke(ctx, MethodInventory, map[string]any{"observation": o})
	if err != nil {
		return nil, err
	}
	actions, err := stringList(resp, "actions")
	if err != nil {
		return nil, err
	}
	return mask.Inventory(actions), nil
}
// #endregion inventory

// #region snapshot
// Snapshot resolves progress sets and ranks for every target at obs into a
// pure oracle bound to obs.Episode.
func (c *Client) Snapshot(ctx context.Context, obs norm.Observation, targets []string) (mask.SnapshotOracle, error) {
	snap := mask.SnapshotOracle{Episode: obs.Episode, Targets: make(map[string]mask.Progress, len(targets))}
	for _, t := range targets {
		actions, err := c.ProgressSet(ctx, obs, t)
		if err != nil {
			return mask.SnapshotOracle{}, fmt.Errorf("snapshot %s: %w", t, err)
		}
		rank, known, err := c.Rank(ctx, obs, t)
		if err != nil {
			return mask.SnapshotOracle{}, fmt.Errorf("snapshot %s: %w", t, err)
		}
		snap.Targets[t] = mask.Progress{Actions: actions, Rank: rank, Known: known}
	}
	return snap, nil
}
// #endregion snapshot
