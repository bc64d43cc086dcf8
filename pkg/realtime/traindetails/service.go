package traindetails

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrains/pkg/ctdf"
	"github.com/travigo/livetrains/pkg/realtime/portalpasazera"
)

var (
	ErrTrainNotFound = errors.New("train not found")
	errRejected      = errors.New("request rejected")
)

type TrainIDLookup interface {
	TrainIDFor(trainNumber string) (int64, bool)
}

// Service looks up the route, stations and geometry of a single train.
// Results are never nil, failures leave them partially filled.
type Service struct {
	BaseURL  string
	Headers  portalpasazera.Headers
	Client   *http.Client
	Tokens   *PIDProvider
	TrainIDs TrainIDLookup
}

func NewService(baseURL string, headers portalpasazera.Headers, client *http.Client, cache TokenCache, trainIDs TrainIDLookup) *Service {
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Service{
		BaseURL:  baseURL,
		Headers:  headers,
		Client:   client,
		TrainIDs: trainIDs,
		Tokens: &PIDProvider{
			PageURL: baseURL + "/",
			Headers: headers,
			Client:  client,
			Cache:   cache,
		},
	}
}

func (s *Service) GetTrainTrack(ctx context.Context, trainNumber string) (*ctdf.TrainTrackInfo, error) {
	entry, err := s.lookup(ctx, trainNumber)
	if err != nil {
		return &ctdf.TrainTrackInfo{}, err
	}

	return entry.track(), nil
}

func (s *Service) GetTrainDetails(ctx context.Context, trainNumber string) (*ctdf.TrainDetails, error) {
	details := &ctdf.TrainDetails{
		Number: trainNumber,
	}
	details.TrainID, _ = s.TrainIDs.TrainIDFor(trainNumber)

	entry, err := s.lookup(ctx, trainNumber)
	if err != nil {
		return details, err
	}

	track := entry.track()
	details.StartStationName = track.StartStationName
	details.EndStationName = track.EndStationName
	details.Stations = track.Stations

	if entry.T != nil {
		details.RouteName = entry.T.RouteName
		details.RouteNumber = entry.T.RouteNumber
		details.Carrier = entry.T.Carrier
		details.TrackingURL = entry.T.TrackingURL
		details.Type = entry.T.Type
	}

	if len(track.Stations) > 0 {
		first := track.Stations[0]
		last := track.Stations[len(track.Stations)-1]

		details.StartTime = first.ScheduledDeparture
		if details.StartTime == "" {
			details.StartTime = first.ScheduledArrival
		}
		details.StartDelay = first.DepartureDelay
		if details.StartDelay == 0 {
			details.StartDelay = first.ArrivalDelay
		}

		details.EndTime = last.ScheduledArrival
		if details.EndTime == "" {
			details.EndTime = last.ScheduledDeparture
		}
		details.EndDelay = last.ArrivalDelay
		if details.EndDelay == 0 {
			details.EndDelay = last.DepartureDelay
		}
	}

	return details, nil
}

func (s *Service) lookup(ctx context.Context, trainNumber string) (*showTrackEntry, error) {
	trainID, ok := s.TrainIDs.TrainIDFor(trainNumber)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTrainNotFound, trainNumber)
	}

	response, err := s.showTrack(ctx, trainID)
	if errors.Is(err, errRejected) {
		log.Warn().Str("train", trainNumber).Msg("Page token rejected, refreshing")

		s.Tokens.Invalidate(ctx)
		response, err = s.showTrack(ctx, trainID)
	}
	if err != nil {
		log.Error().Err(err).Str("train", trainNumber).Int64("trainid", trainID).Msg("Failed to fetch train track")
		return nil, err
	}

	if len(response.A) == 0 {
		return nil, fmt.Errorf("%w: empty track response for %s", ErrTrainNotFound, trainNumber)
	}

	return &response.A[0], nil
}

func (s *Service) showTrack(ctx context.Context, trainID int64) (*showTrackResponse, error) {
	token, err := s.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(showTrackRequest{
		AM:  0,
		IS:  trainID,
		PID: token,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/pl/Mapa/ShowTrack", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	s.Headers.Apply(req.Header)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d", errRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("show track returned status %d", resp.StatusCode)
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var response showTrackResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return nil, fmt.Errorf("decode show track: %w", err)
	}

	return &response, nil
}
