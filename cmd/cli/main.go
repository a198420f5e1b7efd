package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mrovelli/conto/internal/config"
	"github.com/mrovelli/conto/internal/domain"
	"github.com/mrovelli/conto/internal/logger"
	"github.com/mrovelli/conto/internal/repository"
	"github.com/mrovelli/conto/internal/store"
	"github.com/mrovelli/conto/internal/store/fire"
	"github.com/mrovelli/conto/internal/store/sqlite"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "accounts":
		runAccounts(log)
	case "balance":
		runBalance(log)
	case "record":
		runRecord(log)
	case "stats":
		runStats(log)
	case "subscriptions":
		runSubscriptions(log)
	case "deactivate":
		runDeactivate(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Conto CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  accounts       List accounts with cached balances")
	fmt.Println("  balance        Show an account's derived balance")
	fmt.Println("  record         Record a transaction against an account")
	fmt.Println("  stats          Income/expense/net totals for a date range")
	fmt.Println("  subscriptions  List active subscriptions with cost projections")
	fmt.Println("  deactivate     Soft-delete a subscription")
	fmt.Println("  help           Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func newRepository(ctx context.Context, log zerolog.Logger) (*repository.Repository, func() error) {
	cfg, err := config.Load(os.Getenv("CONTO_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	var st store.Store
	switch cfg.Store {
	case config.BackendFirestore:
		client, cerr := fire.SharedClient(ctx, cfg.Firestore.ProjectID)
		if cerr != nil {
			log.Fatal().Err(cerr).Msg("Failed to create Firestore client")
		}
		st, err = fire.New(client, cfg.Owner)
	default:
		st, err = sqlite.OpenShared(cfg.SQLite.Path)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	cleanup := func() error {
		if cerr := st.Close(); cerr != nil {
			return cerr
		}
		return fire.CloseSharedClient()
	}
	return repository.New(st, cfg.Owner, log), cleanup
}

func runAccounts(log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, closeStore := newRepository(ctx, log)
	defer closeStore()

	feed := repo.WatchAccounts(ctx)
	defer feed.Cancel()
	select {
	case accounts := <-feed.Updates():
		for _, a := range accounts {
			fmt.Printf("%s\t%s\t%s\t%s %s\n", a.ID, a.Name, a.Kind, a.Balance, a.Currency)
		}
	case err := <-feed.Err():
		log.Fatal().Err(err).Msg("Listing accounts failed")
	case <-ctx.Done():
		log.Fatal().Msg("Timed out listing accounts")
	}
}

func runBalance(log zerolog.Logger) {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	accountID := fs.String("account", "", "Account ID")
	asOf := fs.String("as-of", "", "Balance as of date (YYYY-MM-DD, optional)")
	fs.Parse(os.Args[2:])

	if *accountID == "" {
		log.Fatal().Msg("Error: --account is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, closeStore := newRepository(ctx, log)
	defer closeStore()

	var (
		balance decimal.Decimal
		err     error
	)
	if *asOf != "" {
		date, derr := civil.ParseDate(*asOf)
		if derr != nil {
			log.Fatal().Err(derr).Msg("Invalid --as-of date")
		}
		balance, err = repo.BalanceAsOf(ctx, *accountID, date)
	} else {
		balance, err = repo.Balance(ctx, *accountID)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Reading balance failed")
	}
	fmt.Println(balance.String())
}

func runRecord(log zerolog.Logger) {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	accountID := fs.String("account", "", "Account ID")
	date := fs.String("date", civil.DateOf(time.Now()).String(), "Transaction date (YYYY-MM-DD)")
	amount := fs.String("amount", "", "Signed amount, negative for expenses")
	description := fs.String("description", "", "Description")
	category := fs.String("category", "", "Category label")
	fs.Parse(os.Args[2:])

	if *accountID == "" || *amount == "" {
		log.Fatal().Msg("Usage: cli record -account ID -amount AMOUNT [-date DATE] [-category LABEL]")
	}

	d, err := civil.ParseDate(*date)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid --date")
	}
	amt, err := decimal.NewFromString(*amount)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid --amount")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, closeStore := newRepository(ctx, log)
	defer closeStore()

	id, err := repo.RecordTransaction(ctx, &domain.Transaction{
		AccountID:   *accountID,
		Date:        d,
		Amount:      amt,
		Description: *description,
		Category:    *category,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Recording transaction failed")
	}
	fmt.Printf("Recorded transaction %s\n", id)
}

func runStats(log zerolog.Logger) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	from := fs.String("from", "", "Range start (YYYY-MM-DD)")
	to := fs.String("to", "", "Range end (YYYY-MM-DD)")
	fs.Parse(os.Args[2:])

	if *from == "" || *to == "" {
		log.Fatal().Msg("Usage: cli stats -from DATE -to DATE")
	}
	f, err := civil.ParseDate(*from)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid --from date")
	}
	t, err := civil.ParseDate(*to)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid --to date")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, closeStore := newRepository(ctx, log)
	defer closeStore()

	stats, err := repo.Stats(ctx, store.DateRange{From: f, To: t})
	if err != nil {
		log.Fatal().Err(err).Msg("Computing stats failed")
	}
	fmt.Printf("income:  %s\nexpense: %s\nnet:     %s\n", stats.Income, stats.Expense, stats.Net)
}

func runSubscriptions(log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, closeStore := newRepository(ctx, log)
	defer closeStore()

	feed := repo.WatchActiveSubscriptions(ctx)
	defer feed.Cancel()
	select {
	case subs := <-feed.Updates():
		for _, sub := range subs {
			fmt.Printf("%s\t%s\t%s/mo\t%s/yr\tnext %s\n",
				sub.ID, sub.Name, sub.MonthlyCost(), sub.AnnualCost(), sub.NextRenewal)
		}
	case err := <-feed.Err():
		log.Fatal().Err(err).Msg("Listing subscriptions failed")
	case <-ctx.Done():
		log.Fatal().Msg("Timed out listing subscriptions")
	}
}

func runDeactivate(log zerolog.Logger) {
	fs := flag.NewFlagSet("deactivate", flag.ExitOnError)
	id := fs.String("subscription", "", "Subscription ID")
	end := fs.String("end", civil.DateOf(time.Now()).String(), "End date (YYYY-MM-DD)")
	fs.Parse(os.Args[2:])

	if *id == "" {
		log.Fatal().Msg("Error: --subscription is required")
	}
	date, err := civil.ParseDate(*end)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid --end date")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, closeStore := newRepository(ctx, log)
	defer closeStore()

	if err := repo.DeactivateSubscription(ctx, *id, date); err != nil {
		log.Fatal().Err(err).Msg("Deactivation failed")
	}
	fmt.Printf("Deactivated subscription %s (end %s)\n", *id, date)
}
