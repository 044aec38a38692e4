package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/shipyard/internal/activity"
	"github.com/edvin/shipyard/internal/core"
	"github.com/edvin/shipyard/internal/model"
)

type DeployWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *DeployWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	registerActivities(s.env)
}

func (s *DeployWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *DeployWorkflowTestSuite) mockLookups(deploymentID string) (model.Deployment, model.Project) {
	deployment := model.Deployment{
		ID:            deploymentID,
		ProjectID:     "project-1",
		Branch:        "main",
		CommitRef:     "a1b2c3d",
		TriggerSource: model.TriggerGitPush,
		Status:        model.DeploymentQueued,
	}
	project := model.Project{
		ID:           "project-1",
		OwnerID:      "user-1",
		Slug:         "blog",
		BuildCommand: "npm run build",
		OutputDir:    "dist",
	}
	s.env.OnActivity("GetDeploymentByID", mock.Anything, deploymentID).Return(&deployment, nil)
	s.env.OnActivity("GetProjectByID", mock.Anything, "project-1").Return(&project, nil)
	return deployment, project
}

func (s *DeployWorkflowTestSuite) matchEvent(eventType string) interface{} {
	return mock.MatchedBy(func(event model.DeploymentEvent) bool {
		return event.Type == eventType
	})
}

func (s *DeployWorkflowTestSuite) TestSuccess() {
	deploymentID := "dep-1"
	s.mockLookups(deploymentID)

	s.env.OnActivity("SendEvent", mock.Anything, s.matchEvent(model.EventDeploymentStarted)).Return(nil)
	s.env.OnActivity("TransitionDeployment", mock.Anything, activity.TransitionDeploymentParams{
		ID: deploymentID, To: string(model.DeploymentCloning),
	}).Return(nil)
	s.env.OnActivity("CloneRepo", mock.Anything, activity.CloneRepoParams{
		DeploymentID: deploymentID, ProjectID: "project-1", Branch: "main", CommitRef: "a1b2c3d",
	}).Return(nil)
	s.env.OnActivity("TransitionDeployment", mock.Anything, activity.TransitionDeploymentParams{
		ID: deploymentID, To: string(model.DeploymentBuilding),
	}).Return(nil)
	s.env.OnActivity("StartBuild", mock.Anything, activity.StartBuildParams{
		DeploymentID: deploymentID, ProjectID: "project-1",
		BuildCommand: "npm run build", OutputDir: "dist",
	}).Return(nil)

	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(core.SignalBuilderResult, core.BuilderResult{
			Status:          string(model.DeploymentReady),
			URL:             strPtr("http://builder.internal/artifacts/dep-1"),
			DurationSeconds: intPtr(95),
		})
	}, time.Minute)

	s.env.OnActivity("TransitionDeployment", mock.Anything, activity.TransitionDeploymentParams{
		ID: deploymentID, To: string(model.DeploymentDeploying),
	}).Return(nil)
	s.env.OnActivity("AssignRegion", mock.Anything, deploymentID).Return(&activity.AssignRegionResult{
		RegionID: "region-1", Endpoint: "https://us-east.example.com",
	}, nil)
	s.env.OnActivity("UploadArtifact", mock.Anything, activity.UploadArtifactParams{
		DeploymentID: deploymentID, ProjectSlug: "blog",
		SourceURL: "http://builder.internal/artifacts/dep-1",
	}).Return("https://cdn.example.com/blog/dep-1", nil)
	s.env.OnActivity("ActivateDeployment", mock.Anything, activity.ActivateDeploymentParams{
		ID: deploymentID, URL: "https://cdn.example.com/blog/dep-1", BuildSeconds: 95,
	}).Return(nil)
	s.env.OnActivity("MeterBuildMinutes", mock.Anything, activity.MeterBuildMinutesParams{
		ProjectID: "project-1", BuildSeconds: 95,
	}).Return(nil)
	s.env.OnActivity("SendEvent", mock.Anything, s.matchEvent(model.EventDeploymentSuccess)).Return(nil)

	s.env.ExecuteWorkflow(DeployWorkflow, deploymentID)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *DeployWorkflowTestSuite) TestBuilderReportsFailure() {
	deploymentID := "dep-2"
	s.mockLookups(deploymentID)

	s.env.OnActivity("SendEvent", mock.Anything, s.matchEvent(model.EventDeploymentStarted)).Return(nil)
	s.env.OnActivity("TransitionDeployment", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("CloneRepo", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("StartBuild", mock.Anything, mock.Anything).Return(nil)

	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(core.SignalBuilderResult, core.BuilderResult{
			Status:          string(model.DeploymentError),
			DurationSeconds: intPtr(40),
			ErrorDetail:     strPtr("npm run build exited 1"),
		})
	}, time.Minute)

	s.env.OnActivity("MarkDeploymentError", mock.Anything, activity.MarkDeploymentErrorParams{
		ID: deploymentID, Detail: "npm run build exited 1",
	}).Return(nil)
	// Failed builds still bill the consumed time.
	s.env.OnActivity("MeterBuildMinutes", mock.Anything, activity.MeterBuildMinutesParams{
		ProjectID: "project-1", BuildSeconds: 40,
	}).Return(nil)
	s.env.OnActivity("SendEvent", mock.Anything, s.matchEvent(model.EventDeploymentFailure)).Return(nil)

	s.env.ExecuteWorkflow(DeployWorkflow, deploymentID)
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *DeployWorkflowTestSuite) TestBuildTimeout() {
	deploymentID := "dep-3"
	s.mockLookups(deploymentID)

	s.env.OnActivity("SendEvent", mock.Anything, s.matchEvent(model.EventDeploymentStarted)).Return(nil)
	s.env.OnActivity("TransitionDeployment", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("CloneRepo", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("StartBuild", mock.Anything, mock.Anything).Return(nil)

	// No builder callback ever arrives.
	s.env.OnActivity("MarkDeploymentError", mock.Anything, mock.MatchedBy(func(params activity.MarkDeploymentErrorParams) bool {
		return params.ID == deploymentID && params.Detail != ""
	})).Return(nil)
	s.env.OnActivity("MeterBuildMinutes", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("SendEvent", mock.Anything, s.matchEvent(model.EventDeploymentFailure)).Return(nil)

	s.env.ExecuteWorkflow(DeployWorkflow, deploymentID)
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *DeployWorkflowTestSuite) TestCancelDuringBuild() {
	deploymentID := "dep-4"
	s.mockLookups(deploymentID)

	s.env.OnActivity("SendEvent", mock.Anything, s.matchEvent(model.EventDeploymentStarted)).Return(nil)
	s.env.OnActivity("TransitionDeployment", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("CloneRepo", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("StartBuild", mock.Anything, mock.Anything).Return(nil)

	s.env.RegisterDelayedCallback(func() {
		s.env.CancelWorkflow()
	}, time.Minute)

	// The builder is told to stop and the row lands in cancelled, not error.
	s.env.OnActivity("CancelBuild", mock.Anything, deploymentID).Return(nil)
	s.env.OnActivity("MarkDeploymentCancelled", mock.Anything, deploymentID).Return(nil)
	// Time spent building before the cancel is still billed.
	s.env.OnActivity("MeterBuildMinutes", mock.Anything, mock.Anything).Return(nil)

	s.env.ExecuteWorkflow(DeployWorkflow, deploymentID)
	s.True(s.env.IsWorkflowCompleted())

	err := s.env.GetWorkflowError()
	s.Error(err)
	var canceled *temporal.CanceledError
	s.ErrorAs(err, &canceled)
	s.env.AssertNotCalled(s.T(), "MarkDeploymentError", mock.Anything, mock.Anything)
}

func (s *DeployWorkflowTestSuite) TestCloneFailure() {
	deploymentID := "dep-5"
	s.mockLookups(deploymentID)

	s.env.OnActivity("SendEvent", mock.Anything, s.matchEvent(model.EventDeploymentStarted)).Return(nil)
	s.env.OnActivity("TransitionDeployment", mock.Anything, activity.TransitionDeploymentParams{
		ID: deploymentID, To: string(model.DeploymentCloning),
	}).Return(nil)
	s.env.OnActivity("CloneRepo", mock.Anything, mock.Anything).
		Return(temporal.NewNonRetryableApplicationError("commit not found", core.CodeBuilderFailure, nil))

	s.env.OnActivity("MarkDeploymentError", mock.Anything, mock.MatchedBy(func(params activity.MarkDeploymentErrorParams) bool {
		return params.ID == deploymentID
	})).Return(nil)
	s.env.OnActivity("SendEvent", mock.Anything, s.matchEvent(model.EventDeploymentFailure)).Return(nil)

	s.env.ExecuteWorkflow(DeployWorkflow, deploymentID)
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
	// Nothing was built, so nothing is billed.
	s.env.AssertNotCalled(s.T(), "MeterBuildMinutes", mock.Anything, mock.Anything)
}

func (s *DeployWorkflowTestSuite) TestRegionSlotReleasedOnActivateFailure() {
	deploymentID := "dep-6"
	s.mockLookups(deploymentID)

	s.env.OnActivity("SendEvent", mock.Anything, s.matchEvent(model.EventDeploymentStarted)).Return(nil)
	s.env.OnActivity("TransitionDeployment", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("CloneRepo", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("StartBuild", mock.Anything, mock.Anything).Return(nil)

	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(core.SignalBuilderResult, core.BuilderResult{
			Status:          string(model.DeploymentReady),
			URL:             strPtr("http://builder.internal/artifacts/dep-6"),
			DurationSeconds: intPtr(30),
		})
	}, time.Minute)

	s.env.OnActivity("AssignRegion", mock.Anything, deploymentID).Return(&activity.AssignRegionResult{
		RegionID: "region-1",
	}, nil)
	s.env.OnActivity("UploadArtifact", mock.Anything, mock.Anything).Return("https://cdn.example.com/blog/dep-6", nil)
	s.env.OnActivity("ActivateDeployment", mock.Anything, mock.Anything).
		Return(temporal.NewNonRetryableApplicationError("deployment dep-6 is not deploying", core.CodeInvalidTransition, nil))

	s.env.OnActivity("ReleaseRegionSlot", mock.Anything, "region-1").Return(nil)
	s.env.OnActivity("MarkDeploymentError", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("MeterBuildMinutes", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("SendEvent", mock.Anything, s.matchEvent(model.EventDeploymentFailure)).Return(nil)

	s.env.ExecuteWorkflow(DeployWorkflow, deploymentID)
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func TestDeployWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(DeployWorkflowTestSuite))
}
