package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/lightmesh/internal/command"
)

// CommandPublisher sends a command envelope to the remote command topic.
type CommandPublisher interface {
	Publish(ctx context.Context, target, method string, params interface{}) (string, error)
	Close() error
}

// newPublisher is replaced in tests.
var newPublisher = func(brokers []string, topic string) (CommandPublisher, error) {
	return command.NewKafkaCommandProducer(brokers, topic)
}

var (
	publishBrokers []string
	publishTopic   string
	publishTarget  string
	publishPayload string
)

var publishCmd = &cobra.Command{
	Use:   "publish <method>",
	Short: "Publish a command to devices over Kafka",
	Long: `Publish a command envelope on the Kafka command topic. Devices with the
command channel enabled execute it when the target matches their node name or
link address, or when the target is "*".

Example:
  lightmesh publish credentials_set --brokers kafka:9092 --topic lightmesh-commands \
      --target lamp-03 --payload '{"ssid":"venue","password":"secret"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return runPublish(ctx, args[0], cmd.OutOrStdout())
	},
}

func init() {
	publishCmd.Flags().StringSliceVar(&publishBrokers, "brokers", []string{"localhost:9092"}, "Kafka brokers")
	publishCmd.Flags().StringVar(&publishTopic, "topic", "lightmesh-commands", "command topic")
	publishCmd.Flags().StringVar(&publishTarget, "target", "*", `node name, link address or "*"`)
	publishCmd.Flags().StringVar(&publishPayload, "payload", "", "command parameters as a JSON object")
}

func runPublish(ctx context.Context, method string, out io.Writer) error {
	var params interface{}
	if publishPayload != "" {
		var raw json.RawMessage
		if err := json.Unmarshal([]byte(publishPayload), &raw); err != nil {
			return fmt.Errorf("invalid --payload: %w", err)
		}
		params = raw
	}

	pub, err := newPublisher(publishBrokers, publishTopic)
	if err != nil {
		return err
	}
	defer pub.Close()

	id, err := pub.Publish(ctx, publishTarget, method, params)
	if err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	fmt.Fprintf(out, "✓ Published %s to %s (request_id %s)\n", method, publishTarget, id)
	return nil
}
