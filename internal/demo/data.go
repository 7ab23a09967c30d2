// Package demo seeds a static graph provider with a small cross-repository
// scenario: a terraform repo, a kubernetes manifest repo and a CI pipeline
// repo that all touch the same payment service. The fixtures exercise ARN
// identity and tag-intersection matching end to end.
package demo

import (
	"time"

	"github.com/stratahq/strata/internal/models"
	"github.com/stratahq/strata/internal/scans"
)

const (
	// TenantID is the tenant all demo fixtures belong to.
	TenantID = "demo"

	// RepoTerraform holds the AWS infrastructure definitions.
	RepoTerraform = "infra-terraform"
	// RepoManifests holds the kubernetes deployment manifests.
	RepoManifests = "k8s-manifests"
	// RepoPipelines holds the CI pipeline definitions.
	RepoPipelines = "ci-pipelines"
)

// Shared identifiers that tie the three repositories together.
const (
	paymentsQueueARN = "arn:aws:sqs:eu-central-1:123456789012:payments-inbound"
	paymentsQueueURL = "https://sqs.eu-central-1.amazonaws.com/123456789012/payments-inbound"
	paymentsRoleARN  = "arn:aws:iam::123456789012:role/payments-service"
	paymentsImage    = "registry.example.com/payments/service:2.4.1"
	paymentsGitURL   = "https://github.com/example/payments-service.git"
)

// Seed loads the demo scan graphs into the provider and returns a rollup
// configuration covering all three repositories.
func Seed(provider *scans.StaticProvider) models.RollupConfig {
	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC).UnixNano()

	provider.AddGraph(terraformGraph(base))
	provider.AddGraph(manifestsGraph(base + int64(15*time.Minute)))
	provider.AddGraph(pipelinesGraph(base + int64(30*time.Minute)))

	return Rollup()
}

// Rollup returns the demo rollup configuration. Matcher priorities follow
// identifier strength: ARNs and provider ids identify globally, shared tags
// and names are merely strong hints.
func Rollup() models.RollupConfig {
	return models.RollupConfig{
		TenantID:      TenantID,
		Name:          "payments-platform",
		RepositoryIDs: []string{RepoTerraform, RepoManifests, RepoPipelines},
		Matchers: []models.MatcherConfig{
			{Type: models.MatcherTypeARN, Priority: 90, MinConfidence: 0.8},
			{Type: models.MatcherTypeResourceID, Priority: 70, MinConfidence: 0.7},
			{Type: models.MatcherTypeTag, Priority: 40, MinConfidence: 0.6,
				Attributes: map[string]string{"minTags": "2"}},
			{Type: models.MatcherTypeName, Priority: 30, MinConfidence: 0.6},
		},
		MergeOptions: models.DefaultMergeOptions(),
		Schedule:     "*/30 * * * *",
	}
}

func serviceTags() models.Value {
	return models.MapValue(map[string]models.Value{
		"service": models.StringValue("payments"),
		"env":     models.StringValue("prod"),
	})
}

// terraformGraph models the AWS side: an SQS queue, the IAM role consuming
// it and the ECS service running the payments image.
func terraformGraph(completedAt int64) *models.ScanGraph {
	queue := models.Node{
		ID:   "tf-queue",
		Type: "aws_sqs_queue",
		Name: "payments-inbound",
		Metadata: map[string]models.Value{
			"arn":         models.StringValue(paymentsQueueARN),
			"external_id": models.StringValue(paymentsQueueURL),
			"region":      models.StringValue("eu-central-1"),
			"tags":        serviceTags(),
		},
		Location: models.Location{File: "queues.tf", LineStart: 4, LineEnd: 18},
	}
	role := models.Node{
		ID:   "tf-role",
		Type: "aws_iam_role",
		Name: "payments-service",
		Metadata: map[string]models.Value{
			"arn": models.StringValue(paymentsRoleARN),
			// Wildcard resource grants do not identify a single queue, so
			// the policy contributes no identity of its own.
			"policy": models.StringValue(
				`{"Effect":"Allow","Action":"sqs:ReceiveMessage","Resource":"arn:aws:sqs:eu-central-1:123456789012:payments-*"}`),
		},
		Location: models.Location{File: "iam.tf", LineStart: 1, LineEnd: 27},
	}
	service := models.Node{
		ID:   "tf-ecs-service",
		Type: "aws_ecs_service",
		Name: "payments",
		Metadata: map[string]models.Value{
			"image":  models.StringValue(paymentsImage),
			"module": models.StringValue(paymentsGitURL),
			"tags":   serviceTags(),
		},
		Location: models.Location{File: "ecs.tf", LineStart: 9, LineEnd: 44},
	}

	return &models.ScanGraph{
		Scan: models.Scan{
			ID:              "demo-scan-terraform",
			TenantID:        TenantID,
			RepositoryID:    RepoTerraform,
			CompletedAt:     completedAt,
			ProducerVersion: "terraform-scanner/1.8.0",
		},
		Nodes: []models.Node{queue, role, service},
		Edges: []models.Edge{
			{SourceID: role.ID, TargetID: queue.ID, Type: models.EdgeTypeOperatesOn, Confidence: 100},
			{SourceID: service.ID, TargetID: role.ID, Type: models.EdgeTypeDependsOn, Confidence: 100},
			{SourceID: service.ID, TargetID: queue.ID, Type: models.EdgeTypeDependsOn, Confidence: 90},
		},
	}
}

// manifestsGraph models the kubernetes side. The crossplane-managed queue
// claim carries the same ARN as its terraform twin, and the deployment
// shares the workload tags of the ECS service.
func manifestsGraph(completedAt int64) *models.ScanGraph {
	claimedQueue := models.Node{
		ID:   "xp-queue",
		Type: "aws_sqs_queue",
		Name: "payments-inbound",
		Metadata: map[string]models.Value{
			"kind":        models.StringValue("Queue"),
			"arn":         models.StringValue(paymentsQueueARN),
			"external_id": models.StringValue(paymentsQueueURL),
		},
		Location: models.Location{File: "payments/queue-claim.yaml", LineStart: 1, LineEnd: 16},
	}
	deployment := models.Node{
		ID:   "k8s-deploy",
		Type: "kubernetes_deployment",
		Name: "payments",
		Metadata: map[string]models.Value{
			"kind":      models.StringValue("Deployment"),
			"namespace": models.StringValue("payments"),
			"image":     models.StringValue(paymentsImage),
			"tags":      serviceTags(),
		},
		Location: models.Location{File: "payments/deployment.yaml", LineStart: 1, LineEnd: 52},
	}
	serviceAccount := models.Node{
		ID:   "k8s-sa",
		Type: "kubernetes_service_account",
		Name: "payments",
		Metadata: map[string]models.Value{
			"kind":      models.StringValue("ServiceAccount"),
			"namespace": models.StringValue("payments"),
			"annotations": models.MapValue(map[string]models.Value{
				"eks.amazonaws.com/role-arn": models.StringValue(paymentsRoleARN),
			}),
		},
		Location: models.Location{File: "payments/serviceaccount.yaml", LineStart: 1, LineEnd: 9},
	}

	return &models.ScanGraph{
		Scan: models.Scan{
			ID:              "demo-scan-manifests",
			TenantID:        TenantID,
			RepositoryID:    RepoManifests,
			CompletedAt:     completedAt,
			ProducerVersion: "k8s-scanner/0.9.2",
		},
		Nodes: []models.Node{claimedQueue, deployment, serviceAccount},
		Edges: []models.Edge{
			{SourceID: deployment.ID, TargetID: serviceAccount.ID, Type: models.EdgeTypeDependsOn, Confidence: 100},
			{SourceID: deployment.ID, TargetID: claimedQueue.ID, Type: models.EdgeTypeOperatesOn, Confidence: 90},
		},
	}
}

// pipelinesGraph models the CI side: the pipeline builds the payments image
// from its git repository and deploys it under the same IAM role terraform
// declares.
func pipelinesGraph(completedAt int64) *models.ScanGraph {
	pipeline := models.Node{
		ID:   "ci-build",
		Type: "ci_pipeline",
		Name: "payments-build",
		Metadata: map[string]models.Value{
			"repository": models.StringValue(paymentsGitURL),
			"trigger":    models.StringValue("push:main"),
		},
		Location: models.Location{File: ".ci/payments.yaml", LineStart: 1, LineEnd: 38},
	}
	artifact := models.Node{
		ID:   "ci-artifact",
		Type: "ci_artifact",
		Name: "payments-image",
		Metadata: map[string]models.Value{
			"image": models.StringValue(paymentsImage),
		},
		Location: models.Location{File: ".ci/payments.yaml", LineStart: 24, LineEnd: 31},
	}
	// The deploy job assumes the payments role; the scanner surfaces the
	// referenced role as its own node.
	deployRole := models.Node{
		ID:   "ci-role",
		Type: "aws_iam_role",
		Name: "payments-service",
		Metadata: map[string]models.Value{
			"arn": models.StringValue(paymentsRoleARN),
		},
		Location: models.Location{File: ".ci/payments.yaml", LineStart: 32, LineEnd: 38},
	}

	return &models.ScanGraph{
		Scan: models.Scan{
			ID:              "demo-scan-pipelines",
			TenantID:        TenantID,
			RepositoryID:    RepoPipelines,
			CompletedAt:     completedAt,
			ProducerVersion: "ci-scanner/1.1.0",
		},
		Nodes: []models.Node{pipeline, artifact, deployRole},
		Edges: []models.Edge{
			{SourceID: pipeline.ID, TargetID: artifact.ID, Type: models.EdgeTypeContains, Confidence: 100},
			{SourceID: pipeline.ID, TargetID: deployRole.ID, Type: models.EdgeTypeDependsOn, Confidence: 95},
		},
	}
}
