package main

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spos/internal/engine"
	"spos/internal/order"
)

// demoScript rings up two tickets against the seed catalog.
const demoScript = `
open 100
scan 8850001000011
scan 8850001000011
add 4
disc 10
search tea
add 3 2
customer 2
checkout
new
add 5
price 1.80
drop
add 2
checkout
close 118.17
`

// register replays a line-oriented script of cashier actions against an
// engine, one command per line. Blank lines and # comments are ignored.
type register struct {
	store    string
	cashier  string
	log      *zap.Logger
	receipts int
	last     order.Receipt
}

func (r *register) run(e *engine.Engine, script string) error {
	sc := bufio.NewScanner(strings.NewReader(script))
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if err := r.exec(e, fields[0], fields[1:]); err != nil {
			return fmt.Errorf("script line %d (%q): %w", lineNum, line, err)
		}
	}
	return sc.Err()
}

func (r *register) exec(e *engine.Engine, cmd string, args []string) error {
	switch cmd {
	case "open":
		bal, err := decArg(args, 0)
		if err != nil {
			return err
		}
		_, err = e.OpenSession(engine.Operator{ID: r.cashier, Name: r.cashier}, bal)
		return err
	case "close":
		bal, err := decArg(args, 0)
		if err != nil {
			return err
		}
		return e.CloseSession(bal)
	case "new":
		e.CreateOrder()
	case "drop":
		e.DeleteActiveOrder()
	case "switch":
		n, err := intArg(args, 0)
		if err != nil {
			return err
		}
		orders := e.Orders()
		if n < 1 || int(n) > len(orders) {
			return fmt.Errorf("no open order #%d", n)
		}
		e.SetActiveOrder(orders[n-1])
	case "scan":
		if len(args) != 1 {
			return fmt.Errorf("scan needs a barcode")
		}
		if _, ok := e.ScanBarcode(args[0]); !ok {
			r.log.Warn("unknown barcode", zap.String("barcode", args[0]))
		}
	case "add":
		id, err := intArg(args, 0)
		if err != nil {
			return err
		}
		var opts []order.AddOption
		if len(args) > 1 {
			q, err := decArg(args, 1)
			if err != nil {
				return err
			}
			opts = append(opts, order.WithQuantity(q))
		}
		if _, ok := e.AddProductByID(id, opts...); !ok {
			return fmt.Errorf("unknown product %d", id)
		}
	case "qty", "price", "disc":
		if len(args) != 1 {
			return fmt.Errorf("%s needs a value", cmd)
		}
		return e.ApplyEntry(engine.EntryMode(cmd), args[0])
	case "del":
		e.DeleteSelected()
	case "customer":
		id, err := intArg(args, 0)
		if err != nil {
			return err
		}
		p, ok := e.Catalog().Partner(id)
		if !ok {
			return fmt.Errorf("unknown partner %d", id)
		}
		if o := e.ActiveOrder(); o != nil {
			o.SetCustomer(p)
		}
	case "search":
		q := strings.Join(args, " ")
		var names []string
		for _, p := range e.Catalog().Search(q) {
			names = append(names, p.DisplayName)
		}
		r.log.Info("search", zap.String("query", q), zap.Strings("results", names))
	case "checkout":
		o := e.ActiveOrder()
		if o == nil {
			return fmt.Errorf("no active order")
		}
		if _, ok := e.Checkout(o); !ok {
			return fmt.Errorf("checkout of %s refused", o.Name())
		}
		rc := order.BuildReceipt(o, r.store, r.cashier, e.Now())
		r.receipts++
		r.last = rc
		r.log.Info("receipt",
			zap.String("order", rc.OrderNumber),
			zap.Int("items", len(rc.Items)),
			zap.String("subtotal", rc.Subtotal),
			zap.String("tax", rc.Tax),
			zap.String("total", rc.Total),
			zap.Any("lines", rc.Items))
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func decArg(args []string, i int) (decimal.Decimal, error) {
	if i >= len(args) {
		return decimal.Zero, fmt.Errorf("missing argument %d", i+1)
	}
	v, err := decimal.NewFromString(args[i])
	if err != nil {
		return decimal.Zero, fmt.Errorf("argument %q: %w", args[i], err)
	}
	return v, nil
}

func intArg(args []string, i int) (int64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	v, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %q: %w", args[i], err)
	}
	return v, nil
}
