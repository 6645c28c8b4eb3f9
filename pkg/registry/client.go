package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trialforge-ai/platform/pkg/common/httpclient"
	"github.com/trialforge-ai/platform/pkg/common/logger"
)

// Trial is a simplified ClinicalTrials.gov record used to ground extraction
// prompts with realistic protocol language.
type Trial struct {
	NCTID          string `json:"nct_id"`
	BriefTitle     string `json:"brief_title"`
	StudyType      string `json:"study_type"`
	Phase          string `json:"phase"`
	Enrollment     string `json:"enrollment"`
	PrimaryOutcome string `json:"primary_outcome"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    httpclient.New(timeout),
	}
}

// FetchByCondition queries the registry for trials matching a free-text
// condition. Failures degrade to an empty list: grounding examples are an
// enrichment, never a hard dependency.
func (c *Client) FetchByCondition(ctx context.Context, condition string, maxResults int) []Trial {
	if maxResults <= 0 {
		maxResults = 3
	}
	query := url.Values{
		"expr":    {condition},
		"min_rnk": {"1"},
		"max_rnk": {fmt.Sprintf("%d", maxResults)},
		"fmt":     {"json"},
	}

	var body []byte
	err := httpclient.Retry(ctx, 2, 250*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("registry returned status %d", resp.StatusCode)
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		logger.Log.WithError(err).WithField("condition", condition).Warn("trial registry lookup failed")
		return nil
	}

	return parseFullStudies(body)
}

func parseFullStudies(body []byte) []Trial {
	var payload struct {
		FullStudiesResponse struct {
			FullStudies []struct {
				Study struct {
					ProtocolSection struct {
						IdentificationModule struct {
							NCTId      string `json:"NCTId"`
							BriefTitle string `json:"BriefTitle"`
						} `json:"IdentificationModule"`
						DesignModule struct {
							StudyType string `json:"StudyType"`
							PhaseList struct {
								Phase []string `json:"Phase"`
							} `json:"PhaseList"`
							EnrollmentInfo struct {
								EnrollmentCount string `json:"EnrollmentCount"`
							} `json:"EnrollmentInfo"`
						} `json:"DesignModule"`
						OutcomesModule struct {
							PrimaryOutcomeList struct {
								PrimaryOutcome []struct {
									PrimaryOutcomeMeasure string `json:"PrimaryOutcomeMeasure"`
								} `json:"PrimaryOutcome"`
							} `json:"PrimaryOutcomeList"`
						} `json:"OutcomesModule"`
					} `json:"ProtocolSection"`
				} `json:"Study"`
			} `json:"FullStudies"`
		} `json:"FullStudiesResponse"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.Log.WithError(err).Warn("failed to decode registry response")
		return nil
	}

	trials := make([]Trial, 0, len(payload.FullStudiesResponse.FullStudies))
	for _, item := range payload.FullStudiesResponse.FullStudies {
		section := item.Study.ProtocolSection
		trial := Trial{
			NCTID:      section.IdentificationModule.NCTId,
			BriefTitle: section.IdentificationModule.BriefTitle,
			StudyType:  section.DesignModule.StudyType,
			Phase:      strings.Join(section.DesignModule.PhaseList.Phase, ", "),
			Enrollment: section.DesignModule.EnrollmentInfo.EnrollmentCount,
		}
		if outcomes := section.OutcomesModule.PrimaryOutcomeList.PrimaryOutcome; len(outcomes) > 0 {
			trial.PrimaryOutcome = outcomes[0].PrimaryOutcomeMeasure
		}
		trials = append(trials, trial)
	}
	return trials
}
