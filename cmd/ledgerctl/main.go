// Command ledgerctl talks to a running ledgerd over gRPC and audits remote
// chains over libp2p.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/asurechain/ledger/internal/config"
	"github.com/asurechain/ledger/internal/crypto"
	ledgergrpc "github.com/asurechain/ledger/internal/grpc"
	"github.com/asurechain/ledger/internal/p2p"
	"github.com/asurechain/ledger/internal/verify"
	"github.com/asurechain/ledger/pkg/types"
)

var opts config.Client

// errCheckFailed makes a command exit with status 3 after a negative answer
var errCheckFailed = errors.New("check failed")

func main() {
	parser := flags.NewParser(&opts, flags.Default)

	commands := []struct {
		name, short string
		command     any
	}{
		{"issue", "Seal a new artifact record", &issueCommand{}},
		{"verify", "Verify an artifact against the ledger", &verifyCommand{}},
		{"revoke", "Revoke an artifact by id", &revokeCommand{}},
		{"list", "List every issued artifact", &listCommand{}},
		{"show", "Show an artifact by id", &showCommand{}},
		{"contains", "Check whether a block hash is in the chain", &containsCommand{}},
		{"integrity", "Re-verify the whole chain", &integrityCommand{}},
		{"info", "Show the ledger state", &infoCommand{}},
		{"block", "Show a block by index", &blockCommand{}},
		{"difficulty", "Set the difficulty for future blocks", &difficultyCommand{}},
		{"watch", "Stream newly sealed blocks", &watchCommand{}},
		{"audit", "Fetch and verify a remote chain over libp2p", &auditCommand{}},
		{"keygen", "Generate an issuer key", &keygenCommand{}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.short, c.command); err != nil {
			panic(err)
		}
	}

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		if errors.Is(err, errCheckFailed) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

// call dials ledgerd and runs fn with a client and a request context
func call(fn func(ctx context.Context, client *ledgergrpc.Client) error) error {
	conn, err := grpc.Dial(opts.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	return fn(ctx, ledgergrpc.NewClient(conn))
}

type issueCommand struct {
	Company string `long:"company" required:"true" description:"issuing company name"`
	BarCode string `long:"bar-code" required:"true" description:"artifact bar code"`
	BatchNo string `long:"batch" required:"true" description:"batch number"`
	Status  string `long:"status" description:"initial status" default:"Valid"`
}

func (c *issueCommand) Execute([]string) error {
	return call(func(ctx context.Context, client *ledgergrpc.Client) error {
		artifact, err := client.Issue(ctx, verify.IssueRequest{
			CompanyName: c.Company,
			BarCode:     c.BarCode,
			BatchNo:     c.BatchNo,
			Status:      types.ArtifactStatus(c.Status),
		})
		if err != nil {
			return err
		}

		fmt.Println("✓ Artifact issued")
		printArtifact(artifact)
		return nil
	})
}

type verifyCommand struct {
	Company string `long:"company" description:"company name"`
	BarCode string `long:"bar-code" description:"artifact bar code"`
	BatchNo string `long:"batch" description:"batch number"`
}

func (c *verifyCommand) Execute([]string) error {
	return call(func(ctx context.Context, client *ledgergrpc.Client) error {
		result, err := client.Verify(ctx, types.Query{
			CompanyName: c.Company,
			BarCode:     c.BarCode,
			BatchNo:     c.BatchNo,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Outcome: %s\n", result.Outcome)
		if result.Artifact != nil {
			printArtifact(result.Artifact)
		}
		if result.Block != nil {
			fmt.Printf("Block:       #%d sealed %s\n", result.Block.Index, result.Block.Timestamp.Format(time.RFC3339))
			if result.ProofValid() {
				fmt.Printf("Inclusion:   proven under checkpoint %s\n", result.Checkpoint)
			} else {
				fmt.Println("Inclusion:   proof does not match checkpoint")
				return errCheckFailed
			}
		}
		if !result.Authentic() {
			return errCheckFailed
		}
		return nil
	})
}

type revokeCommand struct {
	Args struct {
		ID string `positional-arg-name:"id"`
	} `positional-args:"yes" required:"yes"`
}

func (c *revokeCommand) Execute([]string) error {
	return call(func(ctx context.Context, client *ledgergrpc.Client) error {
		artifact, err := client.Revoke(ctx, c.Args.ID)
		if err != nil {
			return err
		}

		fmt.Println("✓ Artifact revoked")
		printArtifact(artifact)
		return nil
	})
}

type listCommand struct{}

func (c *listCommand) Execute([]string) error {
	return call(func(ctx context.Context, client *ledgergrpc.Client) error {
		artifacts, err := client.ListArtifacts(ctx)
		if err != nil {
			return err
		}

		for i, artifact := range artifacts {
			if i > 0 {
				fmt.Println()
			}
			printArtifact(artifact)
		}
		fmt.Printf("%d artifact(s)\n", len(artifacts))
		return nil
	})
}

type showCommand struct {
	Args struct {
		ID string `positional-arg-name:"id"`
	} `positional-args:"yes" required:"yes"`
}

func (c *showCommand) Execute([]string) error {
	return call(func(ctx context.Context, client *ledgergrpc.Client) error {
		artifact, err := client.GetArtifact(ctx, c.Args.ID)
		if err != nil {
			return err
		}

		printArtifact(artifact)
		return nil
	})
}

type containsCommand struct {
	Args struct {
		Hash string `positional-arg-name:"hash"`
	} `positional-args:"yes" required:"yes"`
}

func (c *containsCommand) Execute([]string) error {
	return call(func(ctx context.Context, client *ledgergrpc.Client) error {
		ok, err := client.Contains(ctx, c.Args.Hash)
		if err != nil {
			return err
		}

		fmt.Println(ok)
		if !ok {
			return errCheckFailed
		}
		return nil
	})
}

type integrityCommand struct{}

func (c *integrityCommand) Execute([]string) error {
	return call(func(ctx context.Context, client *ledgergrpc.Client) error {
		report, err := client.VerifyIntegrity(ctx)
		if err != nil {
			return err
		}

		if report.OK {
			fmt.Printf("✓ Chain verified (%d blocks)\n", report.Height)
			return nil
		}
		fmt.Printf("✗ Chain broken at block %d: %s\n", report.Index, report.Kind)
		return errCheckFailed
	})
}

type infoCommand struct{}

func (c *infoCommand) Execute([]string) error {
	return call(func(ctx context.Context, client *ledgergrpc.Client) error {
		info, err := client.GetInfo(ctx)
		if err != nil {
			return err
		}

		fmt.Println("=== Ledger ===")
		fmt.Printf("Height:     %d\n", info.Height)
		fmt.Printf("Tip:        %s\n", info.Tip)
		fmt.Printf("Difficulty: %d\n", info.Difficulty)
		fmt.Printf("Checkpoint: %s\n", info.Checkpoint)
		fmt.Printf("Issuer:     %s\n", info.IssuerAddress)
		return nil
	})
}

type blockCommand struct {
	Args struct {
		Index uint64 `positional-arg-name:"index"`
	} `positional-args:"yes" required:"yes"`
}

func (c *blockCommand) Execute([]string) error {
	return call(func(ctx context.Context, client *ledgergrpc.Client) error {
		block, err := client.GetBlock(ctx, c.Args.Index)
		if err != nil {
			return err
		}

		printBlock(block)
		return nil
	})
}

type difficultyCommand struct {
	Args struct {
		Difficulty uint32 `positional-arg-name:"difficulty"`
	} `positional-args:"yes" required:"yes"`
}

func (c *difficultyCommand) Execute([]string) error {
	return call(func(ctx context.Context, client *ledgergrpc.Client) error {
		if err := client.SetDifficulty(ctx, c.Args.Difficulty); err != nil {
			return err
		}

		fmt.Printf("✓ Difficulty set to %d\n", c.Args.Difficulty)
		return nil
	})
}

type watchCommand struct{}

func (c *watchCommand) Execute([]string) error {
	conn, err := grpc.Dial(opts.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	stream, err := ledgergrpc.NewClient(conn).SubscribeBlocks(context.Background())
	if err != nil {
		return err
	}

	fmt.Println("Waiting for blocks, Ctrl+C to stop")
	for {
		block, err := stream.Recv()
		if err != nil {
			return err
		}
		printBlock(block)
	}
}

type auditCommand struct {
	Listen  string `long:"listen" description:"local libp2p listen multiaddr" default:"/ip4/0.0.0.0/tcp/0"`
	Workers int    `long:"workers" description:"verification goroutines" default:"4"`
	Args    struct {
		Peer string `positional-arg-name:"peer-multiaddr"`
	} `positional-args:"yes" required:"yes"`
}

func (c *auditCommand) Execute([]string) error {
	network, err := p2p.NewNetwork(nil, c.Listen, nil)
	if err != nil {
		return err
	}
	defer network.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	report, err := network.Audit(ctx, c.Args.Peer, c.Workers)
	if err != nil {
		return err
	}

	fmt.Printf("Peer:       %s (rtt %s)\n", report.Peer, report.RTT)
	fmt.Printf("Height:     %d\n", report.Height)
	fmt.Printf("Tip:        %s\n", report.Tip)
	fmt.Printf("Checkpoint: %s\n", report.Checkpoint)
	if !report.OK() {
		fmt.Printf("✗ Chain failed verification: %v\n", report.Err)
		return errCheckFailed
	}
	fmt.Println("✓ Chain verified")
	return nil
}

type keygenCommand struct{}

func (c *keygenCommand) Execute([]string) error {
	issuer, err := crypto.NewIssuer()
	if err != nil {
		return err
	}

	fmt.Println("✓ New issuer key")
	fmt.Println("==========================================")
	fmt.Printf("Address:     %s\n", issuer.Address())
	fmt.Printf("Public Key:  %s\n", issuer.PublicKeyHex())
	fmt.Printf("Private Key: %s\n", issuer.PrivateKeyHex())
	fmt.Println("==========================================")
	fmt.Println("Start ledgerd with --issuer-key or ASURE_ISSUER_KEY set to the private key.")
	return nil
}

func printArtifact(a *types.Artifact) {
	fmt.Printf("ID:          %s\n", a.ID)
	fmt.Printf("Company:     %s\n", a.CompanyName)
	fmt.Printf("Bar Code:    %s\n", a.BarCode)
	fmt.Printf("Batch:       %s\n", a.BatchNo)
	fmt.Printf("Status:      %s\n", a.Status)
	fmt.Printf("Issued:      %s\n", a.DateIssued.Format("2006-01-02"))
	fmt.Printf("Ledger Hash: %s\n", a.LedgerHash)
}

func printBlock(b *types.Block) {
	fmt.Printf("Block #%d\n", b.Index)
	fmt.Printf("  Hash:       %s\n", b.Hash)
	fmt.Printf("  Prev:       %s\n", b.PrevHash)
	fmt.Printf("  Timestamp:  %s\n", b.Timestamp.Format(time.RFC3339Nano))
	fmt.Printf("  Nonce:      %d\n", b.Nonce)
	fmt.Printf("  Difficulty: %d\n", b.Difficulty)
	fmt.Printf("  Payload:    %v\n", b.Payload)
}
