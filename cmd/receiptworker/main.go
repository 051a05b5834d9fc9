package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/email"
	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/events"
)

func main() {
	log.Println("Receipt worker starting...")
	startConsumer()
}

func startConsumer() {
	brokers := splitBrokers(getenv("KAFKA_BROKERS", "localhost:9092"))
	topic := getenv("KAFKA_PURCHASES_TOPIC", "purchases.v1")
	group := getenv("KAFKA_RECEIPT_GROUP_ID", "receipt-workers")
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupTopics: []string{topic},
		GroupID:     group,
		MinBytes:    1e3, MaxBytes: 10e6,
	})
	defer reader.Close()

	sender := pickSender()
	log.Printf("[receipt-worker] consuming topic=%s (group=%s)", topic, group)
	for {
		msg, err := reader.ReadMessage(context.Background())
		if err != nil {
			log.Printf("[receipt-worker] read error: %v", err)
			return
		}

		var evt events.Envelope
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			log.Printf("[receipt-worker] bad json: %v; payload=%s", err, string(msg.Value))
			continue
		}

		switch evt.EventType {
		case "PurchaseDelivered":
			handlePurchaseDelivered(sender, evt)
		default:
			// ignore other event types
		}
	}
}

func handlePurchaseDelivered(sender email.Sender, evt events.Envelope) {
	data := toMap(evt.Data)
	orderID := toString(data["orderId"])
	recipeID := toString(data["recipeId"])
	to := toString(data["customerEmail"])
	if to == "" {
		// the buyer never left an address; nothing to receipt
		log.Printf("[receipt-worker] no customer email for order=%s, skipping", orderID)
		return
	}

	body := email.RenderReceiptEmail(orderID, recipeID)
	if err := sender.Send(to, "Votre reçu AstroFood", body); err != nil {
		log.Printf("[receipt-worker] send failed: %v", err)
		return
	}

	log.Printf("[receipt-worker] sent receipt to=%s order=%s recipe=%s", to, orderID, recipeID)
}

func pickSender() email.Sender {
	// Use SMTP if configured; else fallback to log
	if os.Getenv("SMTP_HOST") != "" || os.Getenv("SMTP_PORT") != "" {
		return email.NewSMTPSender()
	}
	return email.LogSender{}
}

// helpers
func getenv(k, d string) string { if v := os.Getenv(k); v != "" { return v }; return d }
func toMap(v interface{}) map[string]interface{} { if m, ok := v.(map[string]interface{}); ok { return m }; return map[string]interface{}{} }
func toString(v interface{}) string { if s, ok := v.(string); ok { return s }; return "" }
func splitBrokers(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if t := strings.TrimSpace(p); t != "" { out = append(out, t) }
	}
	return out
}
