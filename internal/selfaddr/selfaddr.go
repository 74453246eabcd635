// Package selfaddr resolves the stable address a coordinator registers
// itself under, per spec.md §6's "Self-address discovery".
package selfaddr

import (
	"context"
	"fmt"
	"io"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// Resolver yields this node's cluster-stable address.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// Static always returns a fixed address. Used in tests and for
// non-EC2 deployments where the address is supplied out of band.
type Static string

func (s Static) Resolve(context.Context) (string, error) {
	addr := strings.TrimSpace(string(s))
	if addr == "" {
		return "", fmt.Errorf("selfaddr: static address is empty")
	}
	return addr, nil
}

// EC2IMDS resolves the node's public IPv4 via the EC2 instance-metadata
// service, replacing the original implementation's hardcoded HTTP GET to
// http://169.254.169.254/latest/meta-data/public-ipv4 with the AWS SDK's
// IMDS client (which transparently handles the v2 token handshake).
type EC2IMDS struct {
	client *imds.Client
}

// NewEC2IMDS builds a resolver backed by the default AWS SDK config.
func NewEC2IMDS(ctx context.Context) (*EC2IMDS, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("selfaddr: load aws config: %w", err)
	}
	return &EC2IMDS{client: imds.NewFromConfig(cfg)}, nil
}

func (e *EC2IMDS) Resolve(ctx context.Context) (string, error) {
	out, err := e.client.GetMetadata(ctx, &imds.GetMetadataInput{Path: "public-ipv4"})
	if err != nil {
		return "", fmt.Errorf("selfaddr: fetch public-ipv4 from imds: %w", err)
	}
	defer out.Content.Close()

	raw, err := io.ReadAll(out.Content)
	if err != nil {
		return "", fmt.Errorf("selfaddr: read imds response: %w", err)
	}
	addr := strings.TrimSpace(string(raw))
	if addr == "" {
		return "", fmt.Errorf("selfaddr: imds returned empty public-ipv4")
	}
	return addr, nil
}
