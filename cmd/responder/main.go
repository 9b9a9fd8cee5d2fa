// Command responder runs the trigger-response Slack bot.
//
// Configuration comes from the environment with the RESPONDER_ prefix:
// RESPONDER_SLACK_TOKEN is required, RESPONDER_GCP_PROJECT selects the
// Datastore project, RESPONDER_MODERATORS lists the moderator user IDs
// and RESPONDER_DEV_MODE keeps everything in memory and chatty.
package main

import (
	"context"
	"log"
	"net/http"
	"strings"

	"cloud.google.com/go/datastore"
	"cloud.google.com/go/trace"
	"github.com/gorilla/mux"
	"github.com/marcsantiago/gocron"
	"github.com/nlopes/slack"
	"github.com/spf13/viper"

	"github.com/gobridge/responder"
	"github.com/gobridge/responder/bot"
	"github.com/gobridge/responder/handlers"
	"github.com/gobridge/responder/store"
)

var botVersion = "HEAD"

func main() {
	v := viper.New()
	v.SetEnvPrefix("responder")
	v.AutomaticEnv()
	v.SetDefault("name", "responder")
	v.SetDefault("http_addr", ":8081")
	v.SetDefault("sweep_interval", 60)

	slackToken := v.GetString("slack_token")
	if slackToken == "" {
		log.Fatal("slack token must be set in the RESPONDER_SLACK_TOKEN environment variable")
	}
	devMode := v.GetBool("dev_mode")
	name := strings.TrimPrefix(v.GetString("name"), "@")
	projectID := v.GetString("gcp_project")
	moderators := strings.Fields(v.GetString("moderators"))

	ctx := context.Background()

	var (
		rules       store.RuleStore
		config      store.ConfigStore
		traceClient *trace.Client
	)
	if devMode || projectID == "" {
		log.Println("Running with the in-memory store")
		mem := store.NewMemory()
		rules, config = mem, mem
	} else {
		dsClient, err := datastore.NewClient(ctx, projectID)
		if err != nil {
			log.Fatalf("connecting to Datastore: %v", err)
		}
		gcp := store.NewGCPStore(dsClient)
		rules, config = gcp, gcp

		traceClient, err = trace.NewClient(ctx, projectID)
		if err != nil {
			log.Fatalf("creating trace client: %v", err)
		}
	}

	slackBotAPI := slack.New(slackToken)

	transport := bot.NewTransport(slackBotAPI, log.Printf)
	engine, err := responder.NewEngine(rules, config, transport,
		responder.WithLogger(log.Printf),
	)
	if err != nil {
		log.Fatalf("creating engine: %v", err)
	}

	b := bot.New(slackBotAPI, engine, traceClient, name, moderators, devMode, log.Printf)

	span := traceClient.NewSpan("main")
	if err := b.Init(ctx, span); err != nil {
		log.Fatalf("initializing bot: %v", err)
	}
	span.Finish()

	b.SetCommands(handlers.Commands(engine, b.TeamID))

	sc := gocron.NewScheduler()
	sc.Every(uint64(v.GetInt("sweep_interval"))).Seconds().Do(func() {
		span := traceClient.NewSpan("engine.SweepExpired")
		defer span.Finish()
		engine.SweepExpired(trace.NewContext(context.Background(), span))
	})
	go func() { <-sc.Start() }()

	go func() {
		r := mux.NewRouter()
		r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		r.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(botVersion))
		})
		if err := http.ListenAndServe(v.GetString("http_addr"), r); err != nil {
			log.Printf("http server: %v\n", err)
		}
	}()

	rtm := slackBotAPI.NewRTM()
	go rtm.ManageConnection()

	for msg := range rtm.IncomingEvents {
		switch event := msg.Data.(type) {
		case *slack.MessageEvent:
			go b.HandleMessage(event)

		case *slack.ReactionAddedEvent:
			go b.HandleReaction(event)

		case *slack.InvalidAuthEvent:
			log.Fatal("invalid slack token")
		}
	}
}
