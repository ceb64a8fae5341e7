// Command sagactl drives the orchestrator API by hand: start order sagas, look
// up their status, page through them and fire bursts of concurrent sagas.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fortressi/sagaorch"
	"github.com/fortressi/sagaorch/orderflow"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const usage = `usage: sagactl [-addr URL] <command> [flags]

commands:
  start       start one order saga
  status ID   show a saga
  list        page through sagas
  compensate ID
              unwind a saga left FAILED
  burst       start many order sagas concurrently
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "sagactl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("sagactl", flag.ContinueOnError)
	addr := global.String("addr", envOr("SAGACTL_ADDR", "http://localhost:8080"), "orchestrator base URL")
	timeout := global.Duration("timeout", 30*time.Second, "request timeout")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	client := newAPIClient(*addr, nil)
	client.http.Timeout = *timeout

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "start":
		return startCmd(ctx, client, rest, out)
	case "status":
		if len(rest) != 1 {
			return errors.New("status takes exactly one transaction id")
		}
		inst, err := client.Status(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(out, inst)
	case "list":
		return listCmd(ctx, client, rest, out)
	case "compensate":
		if len(rest) != 1 {
			return errors.New("compensate takes exactly one transaction id")
		}
		inst, err := client.Compensate(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(out, inst)
	case "burst":
		return burstCmd(ctx, client, rest, out)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

type orderFlags struct {
	customer string
	product  string
	quantity int
	price    float64
}

func (f *orderFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.customer, "customer", "c-1", "customer id")
	fs.StringVar(&f.product, "product", "p-100", "product id")
	fs.IntVar(&f.quantity, "qty", 1, "quantity")
	fs.Float64Var(&f.price, "price", 49.9, "unit price")
}

func (f *orderFlags) request(orderID string) *orderflow.OrderRequest {
	return &orderflow.OrderRequest{
		OrderID:    orderID,
		CustomerID: f.customer,
		Items:      []orderflow.Item{{ProductID: f.product, Quantity: f.quantity, Price: f.price}},
		Amount:     float64(f.quantity) * f.price,
	}
}

func startCmd(ctx context.Context, client *apiClient, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	var of orderFlags
	of.register(fs)
	orderID := fs.String("order", "", "order id (random when empty)")
	amount := fs.Float64("amount", 0, "override the order amount")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *orderID == "" {
		*orderID = "ord-" + uuid.NewString()[:8]
	}

	req := of.request(*orderID)
	if *amount > 0 {
		req.Amount = *amount
	}
	inst, err := client.StartOrder(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(out, inst)
}

func listCmd(ctx context.Context, client *apiClient, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	after := fs.String("after", "", "continue after this transaction id")
	limit := fs.Int("limit", 20, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	page, err := client.List(ctx, *after, *limit)
	if err != nil {
		return err
	}
	for _, inst := range page.Sagas {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", inst.TransactionID, inst.BusinessID, inst.Status, inst.Error)
	}
	if page.Next != "" {
		fmt.Fprintf(out, "next: %s\n", page.Next)
	}
	return nil
}

// burstSummary counts final statuses of a burst.
type burstSummary struct {
	Total    int                     `json:"total"`
	Statuses map[sagaorch.Status]int `json:"statuses"`
	Errors   int                     `json:"errors"`
	Elapsed  string                  `json:"elapsed"`
}

func burstCmd(ctx context.Context, client *apiClient, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("burst", flag.ContinueOnError)
	var of orderFlags
	of.register(fs)
	n := fs.Int("n", 20, "number of sagas")
	concurrency := fs.Int("c", 8, "concurrent requests")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *n <= 0 || *concurrency <= 0 {
		return errors.New("-n and -c must be positive")
	}

	summary := burstSummary{Total: *n, Statuses: map[sagaorch.Status]int{}}
	var mu sync.Mutex
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*concurrency)
	for i := 0; i < *n; i++ {
		g.Go(func() error {
			inst, err := client.StartOrder(gctx, of.request(fmt.Sprintf("burst-%d-%s", i, uuid.NewString()[:6])))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Errors++
				return nil
			}
			summary.Statuses[inst.Status]++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	summary.Elapsed = time.Since(start).Round(time.Millisecond).String()
	return printJSON(out, summary)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}
