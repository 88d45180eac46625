package ledgerindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL)
}

func TestCandidateRequests_ParsesRequestsList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"requests": []map[string]interface{}{
					{
						"id":                    "req-1",
						"mech":                  "0xmech1",
						"sender":                "0xsender1",
						"sourceJobDefinitionId": "jd-1",
						"sourceRequestId":       "src-1",
						"ipfsHash":              "bafy-1",
						"chainId":               8453,
						"delivered":             false,
					},
				},
			},
		})
	})

	reqs, err := client.CandidateRequests(context.Background(), []string{"0xmech1"})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, "req-1", reqs[0].ID)
	require.Equal(t, "0xmech1", reqs[0].Mech)
	require.EqualValues(t, 8453, reqs[0].ChainID)
}

func TestCandidateRequests_PropagatesGraphQLErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]interface{}{{"message": "bad query"}},
		})
	})

	_, err := client.CandidateRequests(context.Background(), nil)
	require.Error(t, err)
}

func TestStakedServices_ParsesServiceList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"stakedServices": []map[string]interface{}{
					{"serviceId": "svc-1", "owner": "0xowner", "multisig": "0xsafe"},
				},
			},
		})
	})

	services, err := client.StakedServices(context.Background(), "0xstaking")
	require.NoError(t, err)
	require.Len(t, services, 1)
	require.Equal(t, "svc-1", services[0].ServiceID)
	require.Equal(t, "0xsafe", services[0].Multisig)
}

func TestMechServiceMappings_ParsesMappingList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"mechServiceMappings": []map[string]interface{}{
					{"mech": "0xmech1", "serviceId": "svc-1"},
				},
			},
		})
	})

	mappings, err := client.MechServiceMappings(context.Background(), []string{"svc-1"})
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	require.Equal(t, "0xmech1", mappings[0].Mech)
}

func TestHasJobDefinition_TrueWhenPresent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"jobDefinition": map[string]interface{}{"id": "jd-1"},
			},
		})
	})

	has, err := client.HasJobDefinition(context.Background(), "jd-1")
	require.NoError(t, err)
	require.True(t, has)
}

func TestHasJobDefinition_FalseWhenAbsent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"jobDefinition": nil},
		})
	})

	has, err := client.HasJobDefinition(context.Background(), "jd-missing")
	require.NoError(t, err)
	require.False(t, has)
}

func TestListVentures_ParsesVenturesAndScheduleEntries(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"ventures": []map[string]interface{}{
					{
						"id": "v-1",
						"scheduleEntries": []map[string]interface{}{
							{"id": "e-1", "templateId": "t-1", "cron": "0 * * * *", "enabled": true},
						},
					},
				},
			},
		})
	})

	ventures, err := client.ListVentures(context.Background())
	require.NoError(t, err)
	require.Len(t, ventures, 1)
	require.Equal(t, "v-1", ventures[0].VentureID)
	require.Len(t, ventures[0].Entries, 1)
	require.Equal(t, "t-1", ventures[0].Entries[0].TemplateID)
}

func TestChildren_ParsesJobDefinitionList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"jobDefinitions": []map[string]interface{}{
					{"id": "c1", "name": "child one", "status": "COMPLETED", "branch": "feature/c1", "deliveryIpfsHash": "bafy-c1"},
				},
			},
		})
	})

	children, err := client.Children(context.Background(), "jd-parent")
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, "c1", children[0].ID)
	require.EqualValues(t, "COMPLETED", children[0].Status)
	require.Equal(t, "bafy-c1", children[0].DeliveryIPFSHash)
}

func TestChildHierarchy_SummarizesChildrenList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"jobDefinitions": []map[string]interface{}{
					{"id": "c1"},
					{"id": "c2"},
				},
			},
		})
	})

	lookup, err := client.ChildHierarchy(context.Background(), "jd-parent")
	require.NoError(t, err)
	require.Contains(t, lookup.Summary, "2 child job(s)")
	require.Contains(t, lookup.Summary, "c1")
	require.Contains(t, lookup.Summary, "c2")
}

func TestChildHierarchy_EmptyWhenNoChildren(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"jobDefinitions": []map[string]interface{}{}},
		})
	})

	lookup, err := client.ChildHierarchy(context.Background(), "jd-parent")
	require.NoError(t, err)
	require.Empty(t, lookup.Summary)
}

func TestQuery_RetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"requests": []map[string]interface{}{}},
		})
	})

	reqs, err := client.CandidateRequests(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, reqs)
	require.Equal(t, 2, attempts)
}
