package testutil

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	mongoOnce sync.Once
	mongoURI  string
	mongoErr  error
)

// GetMongoURI returns a connection URI for a shared single-node MongoDB
// replica set. Transactions need a replica set, so the container is started
// with --replSet and initiated before the URI is handed out.
func GetMongoURI(t *testing.T) string {
	t.Helper()
	skipIfShort(t, "mongo")

	mongoOnce.Do(func() {
		// Give generous timeout in CI environments
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		mongoC, err := testcontainers.Run(
			ctx, "mongo:7",
			testcontainers.WithExposedPorts("27017/tcp"),
			testcontainers.WithCmd("--replSet", "rs0", "--bind_ip_all"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("27017/tcp"),
				wait.ForLog("Waiting for connections"),
			),
		)
		if err != nil {
			mongoErr = err
			return
		}

		if err := initiateReplicaSet(ctx, mongoC); err != nil {
			_ = mongoC.Terminate(context.Background()) // best-effort cleanup
			mongoErr = err
			return
		}

		endpoint, err := mongoC.Endpoint(ctx, "")
		if err != nil {
			_ = mongoC.Terminate(context.Background()) // best-effort cleanup
			mongoErr = err
			return
		}
		mongoURI = fmt.Sprintf("mongodb://%s/?directConnection=true", endpoint)
	})

	skipOnErr(t, "mongo", mongoErr)
	return mongoURI
}

func initiateReplicaSet(ctx context.Context, c testcontainers.Container) error {
	code, _, err := c.Exec(ctx, []string{
		"mongosh", "--quiet", "--eval",
		"rs.initiate({_id: 'rs0', members: [{_id: 0, host: 'localhost:27017'}]})",
	}, tcexec.Multiplexed())
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("rs.initiate exited with %d", code)
	}

	// Election takes a moment; wait until the node accepts writes.
	for {
		_, out, err := c.Exec(ctx, []string{
			"mongosh", "--quiet", "--eval", "db.hello().isWritablePrimary",
		}, tcexec.Multiplexed())
		if err == nil {
			b, _ := io.ReadAll(out)
			if strings.TrimSpace(string(b)) == "true" {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for replica set primary: %w", ctx.Err())
		case <-time.After(250 * time.Millisecond):
		}
	}
}
