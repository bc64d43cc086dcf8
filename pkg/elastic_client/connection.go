package elastic_client

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrains/pkg/config"
)

type Connection struct {
	Client      *elasticsearch.Client
	bulkIndexer esutil.BulkIndexer
}

func Connect(cfg config.ElasticsearchConfig) (*Connection, error) {
	tp := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Insecure {
		if tp.TLSClientConfig == nil {
			tp.TLSClientConfig = &tls.Config{}
		}
		tp.TLSClientConfig.InsecureSkipVerify = true
	}

	retryBackoff := backoff.NewExponentialBackOff()

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Address},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: tp,

		RetryOnStatus: []int{502, 503, 504, 429},

		RetryBackoff: func(i int) time.Duration {
			if i == 1 {
				retryBackoff.Reset()
			}
			return retryBackoff.NextBackOff()
		},
		MaxRetries: 5,
	})
	if err != nil {
		return nil, err
	}

	_, err = es.Info()
	if err != nil {
		return nil, err
	}

	bulkIndexer, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:        es,               // The Elasticsearch client
		FlushInterval: 15 * time.Second, // The periodic flush interval
	})
	if err != nil {
		return nil, err
	}

	log.Info().Msgf("Elasticsearch client setup for %s", cfg.Address)

	return &Connection{
		Client:      es,
		bulkIndexer: bulkIndexer,
	}, nil
}

func (c *Connection) IndexRequest(ctx context.Context, indexName string, document io.ReadSeeker) error {
	return c.bulkIndexer.Add(
		ctx,
		esutil.BulkIndexerItem{
			Index:  indexName,
			Action: "index",
			Body:   document,
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					log.Error().Err(err).Str("indexName", indexName).Msg("Failed to index document")
				} else {
					log.Error().Str("type", res.Error.Type).Str("reason", res.Error.Reason).Msg("Failed to index document")
				}
			},
		},
	)
}

func (c *Connection) WaitUntilQueueEmpty(ctx context.Context) error {
	return c.bulkIndexer.Close(ctx)
}
